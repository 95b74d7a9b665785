package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"example.com/activitysync/internal/domain"
)

var (
	// ErrMalformed is returned for payloads that are not a JSON object or
	// whose recognised key carries the wrong shape.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownMessage is returned for well-formed objects with no known key.
	ErrUnknownMessage = errors.New("unknown message")
)

const (
	keySnapshot    = "activity"
	keySnapshotIdx = "currentTaskIndex"
	keyList        = "activityList"
	keySeconds     = "seconds"
	keyActivityID  = "activityId"
)

type listWire struct {
	ActivityList []domain.Activity `json:"activityList"`
}

// Encode serializes a message to its wire form.
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case Snapshot:
		return json.Marshal(msg.Snapshot)
	case *Snapshot:
		return json.Marshal(msg.Snapshot)
	case List:
		return encodeList(msg)
	case *List:
		return encodeList(*msg)
	case Command:
		return encodeCommand(msg)
	case *Command:
		return encodeCommand(*msg)
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownMessage)
	}
}

func encodeList(l List) ([]byte, error) {
	activities := l.Activities
	if activities == nil {
		activities = []domain.Activity{}
	}
	return json.Marshal(listWire{ActivityList: activities})
}

func encodeCommand(c Command) ([]byte, error) {
	if !c.Name.Valid() {
		return nil, fmt.Errorf("encode command %q: %w", c.Name, ErrUnknownMessage)
	}
	body := map[string]any{string(c.Name): true}
	if c.Seconds != 0 {
		body[keySeconds] = c.Seconds
	}
	if c.ActivityID != "" {
		body[keyActivityID] = c.ActivityID
	}
	return json.Marshal(body)
}

// Decode parses a wire payload. Snapshot keys are checked first, then list
// keys, then command names in their fixed order; the first match wins.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, ErrMalformed
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if _, ok := fields[keySnapshot]; ok {
		if _, ok := fields[keySnapshotIdx]; !ok {
			return nil, fmt.Errorf("%w: snapshot without %s", ErrMalformed, keySnapshotIdx)
		}
		var snap domain.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Snapshot{Snapshot: snap}, nil
	}

	if raw, ok := fields[keyList]; ok {
		var activities []domain.Activity
		if err := json.Unmarshal(raw, &activities); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if activities == nil {
			activities = []domain.Activity{}
		}
		return List{Activities: activities}, nil
	}

	for _, name := range commandOrder {
		raw, ok := fields[string(name)]
		if !ok {
			continue
		}
		var flag bool
		if err := json.Unmarshal(raw, &flag); err != nil || !flag {
			continue
		}
		cmd := Command{Name: name}
		if raw, ok := fields[keySeconds]; ok {
			if err := json.Unmarshal(raw, &cmd.Seconds); err != nil {
				return nil, fmt.Errorf("%w: seconds: %v", ErrMalformed, err)
			}
		}
		if raw, ok := fields[keyActivityID]; ok {
			if err := json.Unmarshal(raw, &cmd.ActivityID); err != nil {
				return nil, fmt.Errorf("%w: activityId: %v", ErrMalformed, err)
			}
		}
		return cmd, nil
	}
	return nil, ErrUnknownMessage
}
