package pushrebase

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/scmcore/corestore/ids"
)

// LandRequest/LandReply are the land-service RPC payloads. Their
// Reset/String/ProtoMessage trio satisfies the legacy proto.Message
// shape grpc's default codec expects of generated messages, mirroring
// the (unretrieved) message half of ethbackend_grpc.pb.go.
type LandRequest struct {
	BookmarkName string
	Bonsais      [][]byte // blobstore keys
}

func (m *LandRequest) Reset()         { *m = LandRequest{} }
func (m *LandRequest) String() string { return fmt.Sprintf("LandRequest{%s, %d bonsais}", m.BookmarkName, len(m.Bonsais)) }
func (m *LandRequest) ProtoMessage()  {}

type LandReply struct {
	NewHead       []byte
	RewrittenOld  [][]byte
	RewrittenNew  [][]byte
}

func (m *LandReply) Reset()         { *m = LandReply{} }
func (m *LandReply) String() string { return fmt.Sprintf("LandReply{%x}", m.NewHead) }
func (m *LandReply) ProtoMessage()  {}

// LandServiceClient is the remote pushrebase ("land service") API.
type LandServiceClient interface {
	Land(ctx context.Context, in *LandRequest, opts ...grpc.CallOption) (*LandReply, error)
}

type landServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLandServiceClient wraps an established grpc connection, in the
// same shape turbo-geth's generated ETHBACKEND client wraps its cc.
func NewLandServiceClient(cc grpc.ClientConnInterface) LandServiceClient {
	return &landServiceClient{cc: cc}
}

func (c *landServiceClient) Land(ctx context.Context, in *LandRequest, opts ...grpc.CallOption) (*LandReply, error) {
	out := new(LandReply)
	if err := c.cc.Invoke(ctx, "/pushrebase.LandService/Land", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// LocalPushRebaseFunc performs pushrebase entirely in-process: given
// the bookmark's current target and the bonsais to land, it rewrites
// them onto that target and returns the result. Supplied by the
// caller, since the actual changeset-rewrite mechanics live with
// whatever owns the bonsai changeset graph (outside this package's
// scope, same division changeset/manifest already draw).
type LocalPushRebaseFunc func(ctx context.Context, onto ids.ID, bonsais []ids.ID) (Result, error)

// RemoteMode selects how PushRebase executes.
type RemoteMode int

const (
	// ModeLocalOnly never calls the remote land service.
	ModeLocalOnly RemoteMode = iota
	// ModeRemoteOnly always calls the remote land service and
	// propagates its failure.
	ModeRemoteOnly
	// ModeRemoteWithLocalFallback tries the remote land service first
	// and falls back to LocalPushRebaseFunc on failure, per §4.H.
	ModeRemoteWithLocalFallback
)

// RemoteLandServiceWithLocalFallback executes a pushrebase request per
// mode, decoding/encoding through LandRequest/LandReply for the remote
// path and delegating to local for the local path.
type RemoteLandServiceWithLocalFallback struct {
	Remote LandServiceClient
	Local  LocalPushRebaseFunc
	Mode   RemoteMode
}

func (r *RemoteLandServiceWithLocalFallback) Execute(ctx context.Context, bookmarkName string, onto ids.ID, bonsais []ids.ID) (Result, error) {
	if r.Mode == ModeLocalOnly {
		return r.Local(ctx, onto, bonsais)
	}

	req := &LandRequest{BookmarkName: bookmarkName, Bonsais: make([][]byte, len(bonsais))}
	for i, b := range bonsais {
		req.Bonsais[i] = []byte(b.BlobstoreKey())
	}
	reply, err := r.Remote.Land(ctx, req)
	if err == nil {
		return decodeLandReply(reply)
	}
	if r.Mode == ModeRemoteOnly {
		return Result{}, fmt.Errorf("pushrebase: remote land service: %w", err)
	}
	return r.Local(ctx, onto, bonsais)
}

func decodeLandReply(reply *LandReply) (Result, error) {
	newHead, err := ids.ParseBlobstoreKey(string(reply.NewHead))
	if err != nil {
		return Result{}, fmt.Errorf("pushrebase: decode land reply head: %w", err)
	}
	if len(reply.RewrittenOld) != len(reply.RewrittenNew) {
		return Result{}, fmt.Errorf("pushrebase: land reply has mismatched rewrite list lengths")
	}
	rewritten := make([]Rewrite, len(reply.RewrittenOld))
	for i := range reply.RewrittenOld {
		oldID, err := ids.ParseBlobstoreKey(string(reply.RewrittenOld[i]))
		if err != nil {
			return Result{}, fmt.Errorf("pushrebase: decode rewrite[%d].old: %w", i, err)
		}
		newID, err := ids.ParseBlobstoreKey(string(reply.RewrittenNew[i]))
		if err != nil {
			return Result{}, fmt.Errorf("pushrebase: decode rewrite[%d].new: %w", i, err)
		}
		rewritten[i] = Rewrite{OldID: oldID, NewID: newID}
	}
	return Result{NewHead: newHead, Rewritten: rewritten}, nil
}
