package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/AbyelT/omnipaxos"
)

// Client delivers consensus envelopes to peer nodes over HTTP.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 500 * time.Millisecond,
		},
	}
}

func (c *Client) SendMessage(addr string, m omnipaxos.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/message", addr)

	resp, err := c.httpClient.Post(url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}
