//go:build !linux

package blecentral

import "context"

// listAdapters reports the single system controller.
func listAdapters(context.Context) ([]AdapterInfo, error) {
	return []AdapterInfo{{ID: "default", Name: "default", Powered: true}}, nil
}
