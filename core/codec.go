package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// codec.go implements the deterministic binary wire format from spec.md
// §6: size-prefixed fields, little-endian integers, one tag byte per enum
// variant in declaration order. Every Message round-trips through
// EncodeMessage/DecodeMessage unchanged (spec.md §8's codec law).

// message variant tags, in the declaration order of the Message sum
// (spec.md §4.5.1 plus the Canceled variant introduced by §4.5.2/§4.5.6).
const (
	tagReq byte = iota
	tagResp
	tagConnected
	tagCanceled
)

const (
	tagJoinReqInitial byte = iota
	tagJoinReqProxy
)

const (
	tagJoinRespInitial byte = iota
	tagJoinRespProxy
	tagJoinRespReceivedOC
)

type encoder struct{ buf bytes.Buffer }

func (e *encoder) writeByte(b byte) { e.buf.WriteByte(b) }

func (e *encoder) writeU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeF64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf.Write(b[:])
}

func (e *encoder) writeBytes(b []byte) { e.buf.Write(b) }

func (e *encoder) writePeerId(p PeerId) {
	e.writeU16(uint16(len(p)))
	e.buf.WriteString(string(p))
}

func (e *encoder) writeTransaction(t Transaction) {
	idBytes, _ := t.ID.MarshalBinary()
	e.buf.Write(idBytes)
	e.writeByte(byte(t.Type))
}

func (e *encoder) writeLocation(l Location) { e.writeF64(float64(l)) }

func (e *encoder) writeOptionalLocation(l *Location) {
	if l == nil {
		e.writeByte(0)
		return
	}
	e.writeByte(1)
	e.writeLocation(*l)
}

func (e *encoder) writePeerKeyLocation(pl PeerKeyLocation) {
	e.writePeerId(pl.Peer)
	e.writeOptionalLocation(pl.Location)
}

func (e *encoder) writePeerKeyLocationVec(pls []PeerKeyLocation) {
	e.writeU32(uint32(len(pls)))
	for _, pl := range pls {
		e.writePeerKeyLocation(pl)
	}
}

func (e *encoder) writeVecU8(b []byte) {
	e.writeU32(uint32(len(b)))
	e.buf.Write(b)
}

// EncodeMessage serializes m per the wire format in spec.md §6.
func EncodeMessage(m Message) []byte {
	e := &encoder{}
	e.writeTransaction(m.TxID())
	switch v := m.(type) {
	case ReqMsg:
		e.writeByte(tagReq)
		e.writeJoinRequest(v.Msg)
	case RespMsg:
		e.writeByte(tagResp)
		e.writePeerKeyLocation(v.Sender)
		e.writeJoinResponse(v.Msg)
	case ConnectedMsg:
		e.writeByte(tagConnected)
	case CanceledMsg:
		e.writeByte(tagCanceled)
	default:
		panic(fmt.Sprintf("codec: unknown message type %T", m))
	}
	return e.buf.Bytes()
}

func (e *encoder) writeJoinRequest(r JoinRequest) {
	switch v := r.(type) {
	case InitialJoinRequest:
		e.writeByte(tagJoinReqInitial)
		e.writePeerKeyLocation(v.TargetLoc)
		e.writePeerId(v.ReqPeer)
		e.writeU32(uint32(v.HopsToLive))
		e.writeU32(uint32(v.MaxHopsToLive))
	case ProxyJoinRequest:
		e.writeByte(tagJoinReqProxy)
		e.writePeerKeyLocation(v.Joiner)
		e.writeU32(uint32(v.HopsToLive))
	default:
		panic(fmt.Sprintf("codec: unknown join request type %T", r))
	}
}

func (e *encoder) writeJoinResponse(r JoinResponse) {
	switch v := r.(type) {
	case InitialJoinResponse:
		e.writeByte(tagJoinRespInitial)
		e.writePeerKeyLocationVec(v.AcceptedBy)
		e.writeLocation(v.YourLocation)
		e.writePeerId(v.YourPeerId)
	case ProxyJoinResponse:
		e.writeByte(tagJoinRespProxy)
		e.writePeerKeyLocationVec(v.AcceptedBy)
	case ReceivedOCResponse:
		e.writeByte(tagJoinRespReceivedOC)
		e.writePeerKeyLocation(v.ByPeer)
	default:
		panic(fmt.Sprintf("codec: unknown join response type %T", r))
	}
}

type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrProtocol}, args...)...)
	}
}

func (d *decoder) readByte() byte {
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail("reading byte: %v", err)
		return 0
	}
	return b
}

func (d *decoder) readU16() uint16 {
	var b [2]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail("reading u16: %v", err)
		return 0
	}
	return binary.LittleEndian.Uint16(b[:])
}

func (d *decoder) readU32() uint32 {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail("reading u32: %v", err)
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (d *decoder) readF64() float64 {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail("reading f64: %v", err)
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:]))
}

func (d *decoder) readBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.fail("reading %d bytes: %v", n, err)
		return nil
	}
	return b
}

func (d *decoder) readPeerId() PeerId {
	n := d.readU16()
	if d.err != nil {
		return ""
	}
	return PeerId(d.readBytes(int(n)))
}

func (d *decoder) readTransaction() Transaction {
	raw := d.readBytes(16)
	if d.err != nil {
		return Transaction{}
	}
	var t Transaction
	if err := t.ID.UnmarshalBinary(raw); err != nil {
		d.fail("parsing uuid: %v", err)
		return Transaction{}
	}
	t.Type = TransactionType(d.readByte())
	return t
}

func (d *decoder) readLocation() Location {
	v := d.readF64()
	if d.err != nil {
		return 0
	}
	loc, err := NewLocation(v)
	if err != nil {
		d.fail("%v", err)
		return 0
	}
	return loc
}

func (d *decoder) readOptionalLocation() *Location {
	tag := d.readByte()
	if d.err != nil || tag == 0 {
		return nil
	}
	loc := d.readLocation()
	if d.err != nil {
		return nil
	}
	return &loc
}

func (d *decoder) readPeerKeyLocation() PeerKeyLocation {
	peer := d.readPeerId()
	loc := d.readOptionalLocation()
	return PeerKeyLocation{Peer: peer, Location: loc}
}

func (d *decoder) readPeerKeyLocationVec() []PeerKeyLocation {
	n := d.readU32()
	if d.err != nil {
		return nil
	}
	out := make([]PeerKeyLocation, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, d.readPeerKeyLocation())
		if d.err != nil {
			return nil
		}
	}
	return out
}

// DecodeMessage parses a Message from the wire format produced by
// EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	d := &decoder{r: bytes.NewReader(data)}
	tx := d.readTransaction()
	tag := d.readByte()
	if d.err != nil {
		return nil, d.err
	}

	var msg Message
	switch tag {
	case tagReq:
		req := d.readJoinRequest()
		msg = ReqMsg{ID: tx, Msg: req}
	case tagResp:
		sender := d.readPeerKeyLocation()
		resp := d.readJoinResponse()
		msg = RespMsg{ID: tx, Sender: sender, Msg: resp}
	case tagConnected:
		msg = ConnectedMsg{ID: tx}
	case tagCanceled:
		msg = CanceledMsg{ID: tx}
	default:
		d.fail("unknown message tag %d", tag)
	}
	if d.err != nil {
		return nil, d.err
	}
	return msg, nil
}

func (d *decoder) readJoinRequest() JoinRequest {
	tag := d.readByte()
	if d.err != nil {
		return nil
	}
	switch tag {
	case tagJoinReqInitial:
		target := d.readPeerKeyLocation()
		peer := d.readPeerId()
		htl := d.readU32()
		maxHtl := d.readU32()
		if d.err != nil {
			return nil
		}
		return InitialJoinRequest{TargetLoc: target, ReqPeer: peer, HopsToLive: int(htl), MaxHopsToLive: int(maxHtl)}
	case tagJoinReqProxy:
		joiner := d.readPeerKeyLocation()
		htl := d.readU32()
		if d.err != nil {
			return nil
		}
		return ProxyJoinRequest{Joiner: joiner, HopsToLive: int(htl)}
	default:
		d.fail("unknown join request tag %d", tag)
		return nil
	}
}

func (d *decoder) readJoinResponse() JoinResponse {
	tag := d.readByte()
	if d.err != nil {
		return nil
	}
	switch tag {
	case tagJoinRespInitial:
		accepted := d.readPeerKeyLocationVec()
		loc := d.readLocation()
		peer := d.readPeerId()
		if d.err != nil {
			return nil
		}
		return InitialJoinResponse{AcceptedBy: accepted, YourLocation: loc, YourPeerId: peer}
	case tagJoinRespProxy:
		accepted := d.readPeerKeyLocationVec()
		if d.err != nil {
			return nil
		}
		return ProxyJoinResponse{AcceptedBy: accepted}
	case tagJoinRespReceivedOC:
		by := d.readPeerKeyLocation()
		if d.err != nil {
			return nil
		}
		return ReceivedOCResponse{ByPeer: by}
	default:
		d.fail("unknown join response tag %d", tag)
		return nil
	}
}
