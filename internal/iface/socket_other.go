//go:build !linux

package iface

import (
	"errors"
	"fmt"
)

func openHandle(device string, _ ring, _, _ int) (portHandle, error) {
	return nil, fmt.Errorf("%s: af_packet sockets require linux: %w", device, errors.ErrUnsupported)
}

