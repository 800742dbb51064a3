package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap"
)

// Event is unsolicited EVENT/1.0 message from accessory
type Event struct {
	Characters []hap.JSONCharacter
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(ConnDeadline)); err != nil {
		return nil, err
	}

	if c.secure != nil {
		// request is sealed in frames
		buf := bytes.NewBuffer(nil)
		if err := req.Write(buf); err != nil {
			return nil, err
		}
		if _, err := c.secure.Write(buf.Bytes()); err != nil {
			return nil, err
		}
	} else if err := req.Write(c.conn); err != nil {
		return nil, err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(ConnDeadline)); err != nil {
		return nil, err
	}

	// events can come before the response
	for {
		ok, err := c.readEvent()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}

	res, err := http.ReadResponse(c.reader, req)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))

	return res, nil
}

func (c *Client) Request(method, path, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, "http://"+c.DeviceAddress+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := c.Do(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode >= http.StatusBadRequest {
		serr := &StatusError{StatusCode: res.StatusCode}
		var status hap.JSONStatus
		if b, _ := io.ReadAll(res.Body); json.Unmarshal(b, &status) == nil {
			serr.Status = status.Status
		}
		return res, serr
	}

	return res, nil
}

func (c *Client) Get(path string) (*http.Response, error) {
	return c.Request("GET", path, "", nil)
}

func (c *Client) Post(path, contentType string, body []byte) (*http.Response, error) {
	return c.Request("POST", path, contentType, body)
}

func (c *Client) Put(path, contentType string, body []byte) (*http.Response, error) {
	return c.Request("PUT", path, contentType, body)
}

// ReadEvent returns buffered event or waits for the next one
func (c *Client) ReadEvent(timeout time.Duration) (*Event, error) {
	if len(c.events) == 0 {
		if c.conn == nil {
			return nil, ErrNotConnected
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}

		ok, err := c.readEvent()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("controller: response without request")
		}
	}

	event := c.events[0]
	c.events = c.events[1:]
	return &event, nil
}

// Events returns number of buffered events
func (c *Client) Events() int {
	return len(c.events)
}

// readEvent reads one event into buffer, if next message is an event
func (c *Client) readEvent() (bool, error) {
	// blocks until at least one message is started
	b, err := c.reader.Peek(5)
	if err != nil {
		return false, err
	}

	if string(b) != "EVENT" {
		return false, nil
	}

	tp := textproto.NewReader(c.reader)

	line, err := tp.ReadLine()
	if err != nil {
		return false, err
	}
	if line != "EVENT/1.0 200 OK" {
		return false, errors.New("controller: wrong event: " + line)
	}

	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return false, err
	}

	size, err := strconv.Atoi(header.Get("Content-Length"))
	if err != nil {
		return false, err
	}

	body := make([]byte, size)
	if _, err = io.ReadFull(c.reader, body); err != nil {
		return false, err
	}

	var chars hap.JSONCharacters
	if err = json.Unmarshal(body, &chars); err != nil {
		return false, err
	}

	c.events = append(c.events, Event{Characters: chars.Value})
	return true, nil
}
