package janus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pion/randutil"
)

// ID is a room or feed identifier. The videoroom plugin decides whether it
// expects numbers or strings, so both encodings are supported.
type ID struct {
	num   uint64
	str   string
	isNum bool
}

func NumID(n uint64) ID    { return ID{num: n, isNum: true} }
func StringID(s string) ID { return ID{str: s} }

func (id ID) IsNumeric() bool { return id.isNum }

func (id ID) String() string {
	if id.isNum {
		return strconv.FormatUint(id.num, 10)
	}
	return id.str
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isNum {
		return []byte(strconv.FormatUint(id.num, 10)), nil
	}
	return json.Marshal(id.str)
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("janus id %s: %w", b, err)
	}
	*id = NumID(n)
	return nil
}

// RoomIdentity is the resolved wire form of the room and feed ids. Once
// resolved it is reused for every request of the session.
type RoomIdentity struct {
	Room ID
	Feed ID
}

// ResolveRoomIdentity picks the wire encoding. Both ids are numbers only when
// both parse as unsigned integers and stringIDs is off; otherwise both are
// strings so the pair never mixes encodings.
func ResolveRoomIdentity(room, feed string, stringIDs bool) RoomIdentity {
	if !stringIDs {
		r, rerr := strconv.ParseUint(room, 10, 64)
		f, ferr := strconv.ParseUint(feed, 10, 64)
		if rerr == nil && ferr == nil {
			return RoomIdentity{Room: NumID(r), Feed: NumID(f)}
		}
	}
	return RoomIdentity{Room: StringID(room), Feed: StringID(feed)}
}

// RandomFeedID is the default feed id: a random 32-bit number in decimal.
func RandomFeedID() string {
	return strconv.FormatUint(uint64(randutil.NewMathRandomGenerator().Uint32()), 10)
}
