package cmd

import (
	"context"
	"strings"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/client"
)

func parseDeviceList(devices []string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, entry := range devices {
		for _, id := range strings.Split(entry, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, exists := seen[id]; exists {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}
	return result
}

// onlineSerials returns the serials of every device in the device state
func onlineSerials(devices []client.DeviceDescriptor) []string {
	var online []string
	for _, d := range devices {
		if d.IsOnline() {
			online = append(online, d.Serial)
		}
	}
	return online
}

// resolveSerial picks the target device: -s, then adb.default_device, then
// the only online device.
func resolveSerial(ctx context.Context, c *client.Client) (string, error) {
	if serialFlag != "" {
		return serialFlag, nil
	}
	if appConfig != nil && appConfig.ADB.DefaultDevice != "" {
		return appConfig.ADB.DefaultDevice, nil
	}

	devices, err := c.GetDevices(ctx)
	if err != nil {
		return "", err
	}
	online := onlineSerials(devices)
	switch len(online) {
	case 0:
		return "", adberrors.NewDeviceNotFoundError("", "no devices/emulators found").
			WithSuggestion("Connect a device with USB debugging enabled").
			WithSuggestion("Run 'adbkit devices' to see device states")
	case 1:
		return online[0], nil
	default:
		return "", adberrors.NewError(adberrors.KindDeviceNotFound, "MULTIPLE_DEVICES",
			"more than one device/emulator: "+strings.Join(online, ", ")).
			WithSuggestion("Pick one with -s <serial>")
	}
}

// resolveTargetDevices returns the serials for fan-out commands
func resolveTargetDevices(ctx context.Context, c *client.Client, explicit []string, all bool) ([]string, error) {
	if all {
		devices, err := c.GetDevices(ctx)
		if err != nil {
			return nil, err
		}
		online := onlineSerials(devices)
		if len(online) == 0 {
			return nil, adberrors.NewDeviceNotFoundError("", "no online devices available")
		}
		return online, nil
	}

	if ids := parseDeviceList(explicit); len(ids) > 0 {
		return ids, nil
	}

	serial, err := resolveSerial(ctx, c)
	if err != nil {
		return nil, err
	}
	return []string{serial}, nil
}
