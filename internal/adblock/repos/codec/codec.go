// Package codec encodes a rule index into a compact, versioned binary blob
// and decodes it back.
//
// Layout, all integers big-endian unless varint:
//
//	magic   "RRAB"
//	version uint16
//	flags   uint16 (must be zero)
//	body    rule records, host table, shortcut table, generic ids
//	crc     uint32 CRC-32 (IEEE) of everything before it
//
// Strings are uvarint length-prefixed. Table keys are written in ascending
// order and rule ids as uvarint deltas, so equal indexes encode to equal
// bytes.
package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/AdguardTeam/golibs/errors"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/index"
)

// Version is the format version written by Encode.
const Version uint16 = 1

const (
	magic      = "RRAB"
	headerSize = len(magic) + 2 + 2
	crcSize    = 4
)

const (
	// ErrBadMagic is returned when the data does not start with the format
	// tag.
	ErrBadMagic errors.Error = "not a compiled filter blob"

	// ErrUnsupportedVersion is returned for blobs written by an incompatible
	// encoder.
	ErrUnsupportedVersion errors.Error = "unsupported blob version"

	// ErrChecksum is returned when the trailer does not match the content.
	ErrChecksum errors.Error = "blob checksum mismatch"

	// ErrTruncated is returned when the data ends early.
	ErrTruncated errors.Error = "blob truncated"

	// ErrCorrupt is returned when the data is well framed but inconsistent.
	ErrCorrupt errors.Error = "blob corrupt"
)

// Rule flag bits.
const (
	flagException byte = 1 << iota
	flagAnchorStart
	flagAnchorHost
	flagAnchorEnd
	flagRegex
	flagImportant
	flagMatchCase
	flagRedirectRule
)

// Header is the fixed prefix of a blob.
type Header struct {
	Version uint16
	Flags   uint16
}

// Encode serializes idx. The result decodes to an index that matches
// exactly like idx.
func Encode(idx *index.Index) []byte {
	buf := make([]byte, 0, 64+idx.Len()*48)
	buf = append(buf, magic...)
	buf = binary.BigEndian.AppendUint16(buf, Version)
	buf = binary.BigEndian.AppendUint16(buf, 0)

	rules := idx.Rules()
	buf = binary.AppendUvarint(buf, uint64(len(rules)))
	for _, r := range rules {
		buf = appendRule(buf, r)
	}
	buf = appendTable(buf, idx.Hosts())
	buf = appendTable(buf, idx.Shortcuts())
	buf = appendIDs(buf, idx.Generic())

	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendStrings(buf []byte, ss []string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(ss)))
	for _, s := range ss {
		buf = appendString(buf, s)
	}
	return buf
}

func appendRule(buf []byte, r domain.Rule) []byte {
	o := r.Options
	var f byte
	for _, b := range []struct {
		set  bool
		flag byte
	}{
		{r.Exception, flagException},
		{r.AnchorStart, flagAnchorStart},
		{r.AnchorHost, flagAnchorHost},
		{r.AnchorEnd, flagAnchorEnd},
		{r.Regex, flagRegex},
		{o.Important, flagImportant},
		{o.MatchCase, flagMatchCase},
		{o.RedirectRule, flagRedirectRule},
	} {
		if b.set {
			f |= b.flag
		}
	}

	buf = appendString(buf, r.Text)
	buf = appendString(buf, r.Pattern)
	buf = append(buf, f, byte(o.Party))
	buf = binary.AppendUvarint(buf, uint64(o.PermittedTypes))
	buf = binary.AppendUvarint(buf, uint64(o.RestrictedTypes))
	buf = appendStrings(buf, o.PermittedDomains)
	buf = appendStrings(buf, o.RestrictedDomains)
	buf = appendString(buf, o.Tag)
	return appendString(buf, o.Redirect)
}

func appendIDs(buf []byte, ids []uint32) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(ids)))
	var prev uint32
	for i, id := range ids {
		if i == 0 {
			buf = binary.AppendUvarint(buf, uint64(id))
		} else {
			buf = binary.AppendUvarint(buf, uint64(id-prev))
		}
		prev = id
	}
	return buf
}

func appendTable(buf []byte, t index.Table) []byte {
	keys := t.SortedKeys()
	buf = binary.AppendUvarint(buf, uint64(len(keys)))
	for _, k := range keys {
		buf = binary.BigEndian.AppendUint64(buf, k)
		buf = appendIDs(buf, t[k])
	}
	return buf
}

// ReadHeader validates the framing of data and returns its header. It
// checks the magic, version and checksum but not the body.
func ReadHeader(data []byte) (h Header, err error) {
	if len(data) < len(magic) {
		return h, ErrTruncated
	}
	if string(data[:len(magic)]) != magic {
		return h, ErrBadMagic
	}
	if len(data) < headerSize {
		return h, ErrTruncated
	}
	h.Version = binary.BigEndian.Uint16(data[4:6])
	h.Flags = binary.BigEndian.Uint16(data[6:8])
	if h.Version != Version {
		return h, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, h.Version, Version)
	}
	if h.Flags != 0 {
		return h, fmt.Errorf("%w: unknown flags %#04x", ErrUnsupportedVersion, h.Flags)
	}
	if len(data) < headerSize+crcSize {
		return h, ErrTruncated
	}
	body := data[:len(data)-crcSize]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(data[len(body):]) {
		return h, ErrChecksum
	}
	return h, nil
}

// Decode parses a blob produced by Encode and rebuilds the index with opts.
// A blob holding zero rules is valid and yields an empty index.
func Decode(data []byte, opts index.BuildOptions) (idx *index.Index, err error) {
	if _, err = ReadHeader(data); err != nil {
		return nil, err
	}

	r := &reader{buf: data[headerSize : len(data)-crcSize]}
	n := r.count(minRuleSize)
	rules := make([]domain.Rule, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		rules = append(rules, r.rule())
	}
	hosts := r.table()
	shortcuts := r.table()
	generic := r.ids()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.buf))
	}

	idx, err = index.Assemble(rules, hosts, shortcuts, generic, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return idx, nil
}
