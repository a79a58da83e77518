// Package ids implements the typed, content-addressed identifiers of
// spec.md §3/§4.B: a 32-byte Blake2b-256 digest tagged with a domain
// string. Grounded on mononoke_types/src/typed_hash.rs for the
// contract (constructor, hex formatting, Thrift round-trip, raw-bytes
// round-trip, blobstore-key formatting, prefix parsing, sampling
// fingerprint) and on common/dbutils/bucket.go for the convention of
// naming every on-disk key space as a package-level constant.
package ids

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Domain tags an ID's entity kind. The same bytes under different
// domains MUST hash to different IDs (§3 invariant): the domain string
// is folded into the digest input, not just carried alongside it.
type Domain string

// Known domains, per §6.
const (
	DomainChangeset              Domain = "changeset"
	DomainContent                Domain = "content"
	DomainChunk                  Domain = "chunk"
	DomainRawBundle2             Domain = "rawbundle2"
	DomainFileUnode              Domain = "fileunode"
	DomainManifestUnode          Domain = "manifestunode"
	DomainDeletedManifest2       Domain = "deletedmanifest2"
	DomainDeletedManifestMapNode Domain = "deletedmanifest2.mapnode"
	DomainFsnode                 Domain = "fsnode"
	DomainSkeletonManifest       Domain = "skeletonmanifest"
	DomainContentMetadata        Domain = "content_metadata"
	DomainContentMetadata2       Domain = "content_metadata2"
	DomainFastlogBatch           Domain = "fastlogbatch"
	DomainRedactionKeyList       Domain = "redactionkeylist"
	DomainAsyncRequestParams     Domain = "asyncrequest.params"
	DomainAsyncRequestResult     Domain = "asyncrequest.result"
)

// ID is a 32-byte Blake2b-256 digest tagged with a Domain.
type ID struct {
	domain Domain
	digest [32]byte
}

// New hashes data under domain, folding the domain string into the hash
// input so that identical bytes under different domains never collide.
func New(domain Domain, data []byte) ID {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on an oversized key, and we pass none.
		panic(err)
	}
	h.Write([]byte(domain))
	h.Write([]byte{0}) // separator: domain strings are not prefix-free
	h.Write(data)
	var out ID
	out.domain = domain
	copy(out.digest[:], h.Sum(nil))
	return out
}

// FromDigest builds an ID from a domain and an already-computed 32-byte
// digest, used when rehydrating from storage rather than hashing fresh
// content.
func FromDigest(domain Domain, digest [32]byte) ID {
	return ID{domain: domain, digest: digest}
}

// Domain returns the ID's tagged entity kind.
func (id ID) Domain() Domain { return id.domain }

// Hex returns the lowercase hex encoding of the raw digest.
func (id ID) Hex() string { return hex.EncodeToString(id.digest[:]) }

// String implements fmt.Stringer as the blobstore key, matching how the
// teacher's hash types print themselves in logs.
func (id ID) String() string { return id.BlobstoreKey() }

// BlobstoreKey formats the id as "<domain>.blake2.<hex>" per §6.
func (id ID) BlobstoreKey() string {
	return fmt.Sprintf("%s.blake2.%s", id.domain, id.Hex())
}

// Bytes returns the raw 32-byte digest — NOT a Thrift envelope. Byte
// round-trips must be byte-identical to this.
func (id ID) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, id.digest[:])
	return out
}

// FromBytes reconstructs an ID from domain + raw digest bytes.
func FromBytes(domain Domain, b []byte) (ID, error) {
	if len(b) != 32 {
		return ID{}, fmt.Errorf("ids: expected 32-byte digest, got %d", len(b))
	}
	var id ID
	id.domain = domain
	copy(id.digest[:], b)
	return id, nil
}

// ParseBlobstoreKey parses "<domain>.blake2.<hex>" back into an ID.
func ParseBlobstoreKey(key string) (ID, error) {
	parts := strings.SplitN(key, ".blake2.", 2)
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("ids: malformed blobstore key %q", key)
	}
	digest, err := hex.DecodeString(parts[1])
	if err != nil {
		return ID{}, fmt.Errorf("ids: bad hex in key %q: %w", key, err)
	}
	return FromBytes(Domain(parts[0]), digest)
}

// SamplingFingerprint derives a u64 from the digest, used for
// deterministic sampling of ids in tests and audits (typed_hash.rs's
// sampling-fingerprint hook).
func (id ID) SamplingFingerprint() uint64 {
	return binary.BigEndian.Uint64(id.digest[:8])
}

// Compare orders two IDs byte-wise, making them sortable for the
// prefix-resolution query of §3.
func (id ID) Compare(other ID) int {
	for i := range id.digest {
		if id.digest[i] != other.digest[i] {
			if id.digest[i] < other.digest[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Equal reports whether two ids carry the same domain and digest.
func (id ID) Equal(other ID) bool {
	return id.domain == other.domain && id.digest == other.digest
}

// ThriftID is the wire envelope used by Into/FromThrift. The pack
// carries no Thrift codegen toolchain, so this plays the role of the
// generated struct directly: a flat, versioned representation of the
// same fields a real .thrift IDL would produce.
type ThriftID struct {
	Domain string
	Digest []byte
}

// IntoThrift converts id to its wire envelope.
func (id ID) IntoThrift() ThriftID {
	return ThriftID{Domain: string(id.domain), Digest: id.Bytes()}
}

// FromThrift reconstructs an ID from its wire envelope. Round-trips
// with IntoThrift by construction (property tested in id_test.go).
func FromThrift(t ThriftID) (ID, error) {
	return FromBytes(Domain(t.Domain), t.Digest)
}
