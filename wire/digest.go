package wire

import (
	"bytes"
	"crypto/subtle"
	"sort"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// ErrIntegrityMismatch means a run bundle carried a digest that does not
// match its contents. The whole bundle is rejected and no run starts.
var ErrIntegrityMismatch = errors.New("run bundle digest mismatch")

const digestField = "digest"

// deriveContext namespaces the key derivation so the same passphrase used
// elsewhere on the rig cannot collide with run-bundle digests.
const deriveContext = "jmball/mqtt-saver run bundle digest v1"

// DeriveKey stretches the shared passphrase into the 32-byte key the keyed
// digest needs.
func DeriveKey(secret string) []byte {
	key := make([]byte, 32)
	blake3.DeriveKey(deriveContext, []byte(secret), key)
	return key
}

// VerifyRunDigest checks the integrity of a raw run bundle. A bundle with
// no digest field passes (verification is skipped entirely); a bundle with
// one must match a keyed BLAKE3 over the canonical encoding of everything
// else, or ErrIntegrityMismatch is returned.
func VerifyRunDigest(raw, key []byte) error {
	var bundle map[string]interface{}
	if err := msgpack.Unmarshal(raw, &bundle); err != nil {
		return decodeErrf(err, "bad run payload")
	}

	v, ok := bundle[digestField]
	if !ok {
		return nil
	}
	supplied, ok := digestBytes(v)
	if !ok {
		return decodeErrf(nil, "run payload digest has unusable type %T", v)
	}
	delete(bundle, digestField)

	want, err := ComputeRunDigest(bundle, key)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(supplied, want) != 1 {
		return ErrIntegrityMismatch
	}
	return nil
}

// ComputeRunDigest produces the keyed digest of a digest-less bundle.
// Senders use the same function before publishing.
func ComputeRunDigest(bundle map[string]interface{}, key []byte) ([]byte, error) {
	canon, err := canonicalEncode(bundle)
	if err != nil {
		return nil, err
	}
	h, err := blake3.NewKeyed(key)
	if err != nil {
		return nil, errors.Wrap(err, "keyed digest")
	}
	h.Write(canon)
	return h.Sum(nil), nil
}

func digestBytes(v interface{}) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	}
	return nil, false
}

// canonicalEncode re-encodes a decoded bundle deterministically: map keys
// are emitted in sorted order at every level so the digest is stable across
// encoders that randomize map iteration.
func canonicalEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeCanonical(enc, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(enc *msgpack.Encoder, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := enc.EncodeMapLen(len(t)); err != nil {
			return err
		}
		for _, k := range keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := encodeCanonical(enc, t[k]); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		if err := enc.EncodeArrayLen(len(t)); err != nil {
			return err
		}
		for _, e := range t {
			if err := encodeCanonical(enc, e); err != nil {
				return err
			}
		}
		return nil
	case map[interface{}]interface{}:
		return decodeErrf(nil, "run payload map with non-string keys")
	}
	return enc.Encode(v)
}
