package main

import (
	"fmt"
	"strings"

	"github.com/srg/blecentral/pkg/blecentral"
)

// parseCSVUUIDs splits a comma-separated UUID list, dropping blanks.
func parseCSVUUIDs(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveCharacteristic finds target among chars. service narrows the search
// and is required when target exists in more than one service.
func resolveCharacteristic(chars []blecentral.Characteristic, target, service string) (blecentral.Characteristic, error) {
	id, err := blecentral.ParseUUID(target)
	if err != nil {
		return blecentral.Characteristic{}, fmt.Errorf("invalid characteristic UUID: %w", err)
	}
	var svc blecentral.UUID
	if service != "" {
		if svc, err = blecentral.ParseUUID(service); err != nil {
			return blecentral.Characteristic{}, fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	var found []blecentral.Characteristic
	for _, c := range chars {
		if c.UUID == id && (service == "" || c.Service == svc) {
			found = append(found, c)
		}
	}

	switch len(found) {
	case 0:
		if service != "" {
			return blecentral.Characteristic{}, fmt.Errorf("in service %s: %w", blecentral.ShortUUID(svc), blecentral.CharacteristicNotFound(id))
		}
		return blecentral.Characteristic{}, blecentral.CharacteristicNotFound(id)
	case 1:
		return found[0], nil
	default:
		services := make([]string, len(found))
		for i, c := range found {
			services[i] = blecentral.ShortUUID(c.Service)
		}
		return blecentral.Characteristic{}, fmt.Errorf("characteristic %s exists in services %s: use --service to pick one",
			blecentral.ShortUUID(id), strings.Join(services, ", "))
	}
}

// resolveCharacteristics resolves every UUID of a comma-separated list.
func resolveCharacteristics(chars []blecentral.Characteristic, csv, service string) ([]blecentral.Characteristic, error) {
	targets := parseCSVUUIDs(csv)
	if len(targets) == 0 {
		return nil, fmt.Errorf("no valid UUIDs provided")
	}
	out := make([]blecentral.Characteristic, 0, len(targets))
	for _, t := range targets {
		c, err := resolveCharacteristic(chars, t, service)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
