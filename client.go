// Client pulls stats from a running udptun node's reporting API.
package udptun

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
)

// Getter abstracts http.Get for testing.
type Getter = func(url string) (resp *http.Response, err error)

// Client is an interface for pulling a stats snapshot from one udptun
// node.
type Client interface {
	GetSummaries() ([]Summary, error)
	Hostname() string
	Port() string
}

type client struct {
	hostname string
	port     string
	getFunc  Getter
}

// NewClient creates a Client for the node at hostname:port.
func NewClient(hostname string, port string) *client {
	return &client{hostname: hostname, port: port, getFunc: http.Get}
}

func (c *client) Hostname() string {
	return c.hostname
}

func (c *client) Port() string {
	return c.port
}

// GetSummaries fetches the current stats snapshot from the node's /stats
// endpoint.
func (c *client) GetSummaries() ([]Summary, error) {
	url := fmt.Sprintf("http://%s:%s/stats", c.hostname, c.port)

	resp, err := c.getFunc(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status: %s (%s)", resp.Status, body)
	}

	var summaries []Summary
	if err := json.Unmarshal(body, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}
