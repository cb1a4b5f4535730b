package splunk

import (
	"context"
	"fmt"
)

const serverInfoPath = "/services/server/info"

// ServerInfo returns the decoded /services/server/info document.
func (c *Client) ServerInfo(ctx context.Context) (map[string]any, error) {
	data, err := c.get(ctx, serverInfoPath, nil, nil)
	if err != nil {
		return nil, err
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("server info: unexpected response shape")
	}
	return m, nil
}

// Version returns the server version string, e.g. "9.1.2".
func (c *Client) Version(ctx context.Context) (string, error) {
	info, err := c.ServerInfo(ctx)
	if err != nil {
		return "", err
	}
	v, err := Extract("entry[0].content.version", info)
	if err != nil {
		return "", err
	}
	version := asString(v)
	if version == "" {
		return "", fmt.Errorf("server info: no version reported")
	}
	return version, nil
}
