package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kwv/ndtscan/link"
	"github.com/kwv/ndtscan/ndt"
)

// LoadScans reads scan messages from a file or an http(s) URL holding a
// JSON array, a single message or one message per line.
func LoadScans(ctx context.Context, path string) ([]*link.ScanMessage, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return link.FetchScans(ctx, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scans: %w", err)
	}
	scans, err := link.ParseScans(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scans, nil
}

// SaveScans writes scans as an indented JSON array
func SaveScans(path string, scans []*link.ScanMessage) error {
	data, err := json.MarshalIndent(scans, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling scans: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// scanPoints returns the planar points of msg, projecting a 3D cloud
// within the configured range.
func scanPoints(msg *link.ScanMessage, cfg ndt.Config) []ndt.Point {
	if msg.IsCloud() {
		return ndt.ProjectPointsTo2D(msg.CloudVecs(), cfg.MinRange, cfg.MaxRange).Points
	}
	return msg.Points
}
