// Package statspb holds the wire messages served from /stats.pb.
//
// This file is written by hand in the shape protoc-gen-gogo would produce
// for the equivalent .proto, rather than generated, since there's no
// build step in this tree to run protoc through.
package statspb

import (
	fmt "fmt"

	proto "github.com/gogo/protobuf/proto"
)

// Summary is one peer/connection-id flow's traffic counters.
type Summary struct {
	Peer              string `protobuf:"bytes,1,opt,name=peer,proto3" json:"peer,omitempty"`
	ConnId            uint32 `protobuf:"varint,2,opt,name=conn_id,json=connId,proto3" json:"conn_id,omitempty"`
	BytesSent         uint64 `protobuf:"varint,3,opt,name=bytes_sent,json=bytesSent,proto3" json:"bytes_sent,omitempty"`
	BytesRecv         uint64 `protobuf:"varint,4,opt,name=bytes_recv,json=bytesRecv,proto3" json:"bytes_recv,omitempty"`
	DatagramsSent     uint64 `protobuf:"varint,5,opt,name=datagrams_sent,json=datagramsSent,proto3" json:"datagrams_sent,omitempty"`
	DatagramsRecv     uint64 `protobuf:"varint,6,opt,name=datagrams_recv,json=datagramsRecv,proto3" json:"datagrams_recv,omitempty"`
	FirstSeenUnixNano int64  `protobuf:"varint,7,opt,name=first_seen_unix_nano,json=firstSeenUnixNano,proto3" json:"first_seen_unix_nano,omitempty"`
	LastSeenUnixNano  int64  `protobuf:"varint,8,opt,name=last_seen_unix_nano,json=lastSeenUnixNano,proto3" json:"last_seen_unix_nano,omitempty"`
}

func (m *Summary) Reset()         { *m = Summary{} }
func (m *Summary) String() string { return proto.CompactTextString(m) }
func (*Summary) ProtoMessage()    {}

// Snapshot wraps every live Summary at the moment the /stats.pb handler
// ran.
type Snapshot struct {
	Summaries []*Summary `protobuf:"bytes,1,rep,name=summaries,proto3" json:"summaries,omitempty"`
}

func (m *Snapshot) Reset()         { *m = Snapshot{} }
func (m *Snapshot) String() string { return proto.CompactTextString(m) }
func (*Snapshot) ProtoMessage()    {}

func init() {
	proto.RegisterType((*Summary)(nil), "statspb.Summary")
	proto.RegisterType((*Snapshot)(nil), "statspb.Snapshot")
}

// Marshal encodes s using gogo/protobuf's reflection-based encoder —
// there's no generated MarshalTo/Size pair here, just the plain
// proto.Message path.
func Marshal(s *Snapshot) ([]byte, error) {
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("statspb: marshaling snapshot: %w", err)
	}
	return b, nil
}

// Unmarshal decodes b into a Snapshot.
func Unmarshal(b []byte) (*Snapshot, error) {
	var s Snapshot
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("statspb: unmarshaling snapshot: %w", err)
	}
	return &s, nil
}
