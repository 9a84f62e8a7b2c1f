package audio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"
)

// Devices returns the capture devices known to the given backend ("" for auto).
func Devices(backend string) ([]Device, error) {
	b, err := ParseBackend(backend)
	if err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext(b, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		if err := ctx.Uninit(); err != nil {
			slog.Warn("failed to release audio context", "error", err)
		}
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:      info.ID.String(),
			Name:    strings.TrimSpace(info.Name()),
			Default: info.IsDefault != 0,
		})
	}
	return devices, nil
}
