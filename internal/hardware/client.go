package hardware

import (
	"context"
	"fmt"
	"io"
	"net"
	"reflect"
	"time"

	"codeberg.org/mutker/otnpmon/internal/errors"
	"github.com/fxamacker/cbor/v2"
)

const (
	dialTimeout         = 5 * time.Second
	responseReadTimeout = 30 * time.Second
	maxResponseSize     = 64 * 1024
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("hardware: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("hardware: CBOR decoder initialization failed: " + err.Error())
	}
}

// Response is the envelope of every hardware service reply.
type Response struct {
	OK    bool            `cbor:"ok"`
	Error string          `cbor:"error,omitempty"`
	Data  cbor.RawMessage `cbor:"data,omitempty"`
}

// ServiceError is returned when the service answers with ok=false. It is
// never retried.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("hardware service error on %q: %s", e.Action, e.Message)
}

// IsServiceError reports whether err carries a *ServiceError.
func IsServiceError(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr)
}

// Client sends CBOR requests to the hardware service socket, one request
// per connection.
type Client struct {
	socketPath string
}

// NewClient returns a Client for the service listening on socketPath.
func NewClient(socketPath string) (*Client, error) {
	if socketPath == "" {
		return nil, errors.New().New(ErrInvalidSocket)
	}
	return &Client{socketPath: socketPath}, nil
}

// Call sends one action and decodes the response data into result when
// result is non-nil.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	errFactory := errors.New()

	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return errFactory.WithData(ErrTransport, struct {
			Action string
			Socket string
			Error  string
		}{
			Action: action,
			Socket: c.socketPath,
			Error:  err.Error(),
		})
	}

	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := decMode.Unmarshal(response.Data, result); err != nil {
			return errFactory.WithData(ErrDecodeResponse, struct {
				Action string
				Error  string
			}{
				Action: action,
				Error:  err.Error(),
			})
		}
	}

	return nil
}

func (c *Client) send(ctx context.Context, request map[string]any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := encMode.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		_ = unixConn.CloseWrite()
	}

	deadline := time.Now().Add(responseReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var response Response
	if err := decMode.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}

func periphFields(t PeriphType, id int) map[string]any {
	return map[string]any{"type": t.String(), "id": id}
}

type boolResult struct {
	Value bool `cbor:"value"`
}

type intResult struct {
	Value int `cbor:"value"`
}

func (c *Client) Presence(ctx context.Context, t PeriphType, id int) (bool, error) {
	var result boolResult
	if err := c.Call(ctx, ActionPresence, periphFields(t, id), &result); err != nil {
		return false, err
	}
	return result.Value, nil
}

func (c *Client) Inventory(ctx context.Context, t PeriphType, id int) (Inventory, bool, error) {
	var inv Inventory
	err := c.Call(ctx, ActionInventory, periphFields(t, id), &inv)
	if IsServiceError(err) {
		return Inventory{}, false, nil
	}
	if err != nil {
		return Inventory{}, false, err
	}
	return inv, true, nil
}

func (c *Client) Temperature(ctx context.Context, t PeriphType, id int) (float64, error) {
	var result intResult
	err := c.Call(ctx, ActionTemperature, periphFields(t, id), &result)
	if IsServiceError(err) {
		return InvalidTemperature, nil
	}
	if err != nil {
		return InvalidTemperature, err
	}
	// centi-degrees on the wire
	return float64(result.Value) / 100, nil
}

func (c *Client) FanSpeed(ctx context.Context, id int) (FanSpeed, error) {
	var speed FanSpeed
	if err := c.Call(ctx, ActionFanSpeed, map[string]any{"id": id}, &speed); err != nil {
		return FanSpeed{}, err
	}
	return speed, nil
}

func (c *Client) FanSpeedRate(ctx context.Context, id int) (int, error) {
	var result intResult
	if err := c.Call(ctx, ActionFanSpeedRate, map[string]any{"id": id}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

func (c *Client) SetFanSpeedRate(ctx context.Context, id, rate int) error {
	return c.Call(ctx, ActionSetFanSpeedRate, map[string]any{"id": id, "rate": rate}, nil)
}

func (c *Client) PsuInfo(ctx context.Context, id int) (PsuInfo, bool, error) {
	var info PsuInfo
	err := c.Call(ctx, ActionPsuInfo, map[string]any{"id": id}, &info)
	if IsServiceError(err) {
		return PsuInfo{}, false, nil
	}
	if err != nil {
		return PsuInfo{}, false, err
	}
	return info, true, nil
}

func (c *Client) PsuVinHigh(ctx context.Context, id int) (bool, error) {
	var result boolResult
	if err := c.Call(ctx, ActionPsuVinHigh, map[string]any{"id": id}, &result); err != nil {
		return false, err
	}
	return result.Value, nil
}

func (c *Client) PsuVinLow(ctx context.Context, id int) (bool, error) {
	var result boolResult
	if err := c.Call(ctx, ActionPsuVinLow, map[string]any{"id": id}, &result); err != nil {
		return false, err
	}
	return result.Value, nil
}

func (c *Client) SetLedColor(ctx context.Context, t PeriphType, id int, color LedColor) error {
	fields := periphFields(t, id)
	fields["color"] = color.String()
	return c.Call(ctx, ActionSetLedColor, fields, nil)
}

func (c *Client) SetPowerControl(ctx context.Context, slot int, ctl PowerControl) error {
	return c.Call(ctx, ActionSetPowerControl, map[string]any{"slot": slot, "control": ctl.String()}, nil)
}
