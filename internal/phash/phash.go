// Package phash computes perceptual hashes of encoded images. The hash is an
// opaque, fixed-length byte key: equal keys mean visually identical images
// under the chosen algorithm.
package phash

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/artyom/phash"
	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"

	"github.com/eargollo/dif/internal/media"
)

// Size is the length in bytes of every hash produced by this package.
const Size = 8

// Algorithm names a supported hashing method.
type Algorithm string

const (
	// PHash is the DCT-based perceptual hash.
	PHash Algorithm = "phash"
	// DHash is the gradient (difference) hash.
	DHash Algorithm = "dhash"
	// AHash is the mean (average) hash.
	AHash Algorithm = "ahash"
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{PHash, DHash, AHash}
}

// Hasher decodes raw image bytes and returns their perceptual hash. It holds
// no mutable state and is safe for concurrent use.
type Hasher struct {
	alg Algorithm
	sum func(image.Image) (uint64, error)
}

// New returns a Hasher for alg.
func New(alg Algorithm) (*Hasher, error) {
	h := &Hasher{alg: alg}
	switch alg {
	case PHash:
		h.sum = dctHash
	case DHash:
		h.sum = func(img image.Image) (uint64, error) {
			ih, err := goimagehash.DifferenceHash(img)
			if err != nil {
				return 0, err
			}
			return ih.GetHash(), nil
		}
	case AHash:
		h.sum = func(img image.Image) (uint64, error) {
			ih, err := goimagehash.AverageHash(img)
			if err != nil {
				return 0, err
			}
			return ih.GetHash(), nil
		}
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", alg)
	}
	return h, nil
}

// Algorithm returns the algorithm h computes.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Hash decodes data and hashes the resulting image.
func (h *Hasher) Hash(data []byte) ([]byte, error) {
	img, err := media.Decode(data)
	if err != nil {
		return nil, err
	}
	return h.HashImage(img)
}

// HashImage hashes an already decoded image.
func (h *Hasher) HashImage(img image.Image) ([]byte, error) {
	v, err := h.sum(img)
	if err != nil {
		return nil, fmt.Errorf("%s hash: %w", h.alg, err)
	}
	out := make([]byte, Size)
	binary.BigEndian.PutUint64(out, v)
	return out, nil
}

func dctHash(img image.Image) (uint64, error) {
	return phash.Get(img, func(img image.Image, w, h int) image.Image {
		return imaging.Resize(img, w, h, imaging.Lanczos)
	})
}
