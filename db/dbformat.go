package db

import (
	"fmt"

	"shaledb"
	"shaledb/util"
)

const (
	// maxMemCompactLevel bounds how far down a fresh memtable output may be
	// pushed when nothing overlaps it.
	maxMemCompactLevel = 2
)

const valueTypeForSeek = shaledb.TypeValue

type sequenceNumber uint64

const maxSequenceNumber sequenceNumber = (1 << 56) - 1

func packSequenceAndType(seq sequenceNumber, t shaledb.ValueType) uint64 {
	if seq > maxSequenceNumber {
		panic("db: sequence number overflow")
	}
	if t > valueTypeForSeek {
		panic("db: invalid value type")
	}
	return uint64(seq)<<8 | uint64(t)
}

type parsedInternalKey struct {
	userKey   []byte
	sequence  sequenceNumber
	valueType shaledb.ValueType
}

func (k *parsedInternalKey) debugString() string {
	return fmt.Sprintf("'%s' @ %d : %d", util.EscapeString(k.userKey), k.sequence, int(k.valueType))
}

func appendInternalKey(dst *[]byte, key *parsedInternalKey) {
	*dst = append(*dst, key.userKey...)
	util.PutFixed64(dst, packSequenceAndType(key.sequence, key.valueType))
}

func parseInternalKey(internalKey []byte, result *parsedInternalKey) bool {
	n := len(internalKey)
	if n < 8 {
		return false
	}
	num := util.DecodeFixed64(internalKey[n-8:])
	c := byte(num & 0xff)
	result.sequence = sequenceNumber(num >> 8)
	result.valueType = shaledb.ValueType(c)
	result.userKey = internalKey[:n-8]
	return c <= byte(shaledb.TypeValue)
}

func extractUserKey(internalKey []byte) []byte {
	if len(internalKey) < 8 {
		panic("db: internal key too short")
	}
	return internalKey[:len(internalKey)-8]
}

// internalKeyComparator orders internal keys by ascending user key and, at
// equal user keys, by descending (sequence, type) so newer records sort
// first.
type internalKeyComparator struct {
	userComparator shaledb.Comparator
}

func newInternalKeyComparator(c shaledb.Comparator) *internalKeyComparator {
	return &internalKeyComparator{userComparator: c}
}

func (c *internalKeyComparator) Compare(a, b []byte) int {
	r := c.userComparator.Compare(extractUserKey(a), extractUserKey(b))
	if r == 0 {
		anum := util.DecodeFixed64(a[len(a)-8:])
		bnum := util.DecodeFixed64(b[len(b)-8:])
		if anum > bnum {
			return -1
		} else if anum < bnum {
			return 1
		}
	}
	return r
}

func (c *internalKeyComparator) Name() string {
	return "shaledb.InternalKeyComparator"
}

func (c *internalKeyComparator) FindShortestSeparator(start *[]byte, limit []byte) {
	userStart := extractUserKey(*start)
	userLimit := extractUserKey(limit)
	tmp := make([]byte, len(userStart))
	copy(tmp, userStart)
	c.userComparator.FindShortestSeparator(&tmp, userLimit)
	if len(tmp) < len(userStart) && c.userComparator.Compare(userStart, tmp) < 0 {
		util.PutFixed64(&tmp, packSequenceAndType(maxSequenceNumber, valueTypeForSeek))
		*start = tmp
	}
}

func (c *internalKeyComparator) FindShortSuccessor(key *[]byte) {
	userKey := extractUserKey(*key)
	tmp := make([]byte, len(userKey))
	copy(tmp, userKey)
	c.userComparator.FindShortSuccessor(&tmp)
	if len(tmp) < len(userKey) && c.userComparator.Compare(userKey, tmp) < 0 {
		util.PutFixed64(&tmp, packSequenceAndType(maxSequenceNumber, valueTypeForSeek))
		*key = tmp
	}
}

func (c *internalKeyComparator) compareKey(a, b *internalKey) int {
	return c.Compare(a.encode(), b.encode())
}

// internalKey owns the encoded rep of (user_key, sequence, type).
type internalKey struct {
	rep []byte
}

func newInternalKey(userKey []byte, seq sequenceNumber, t shaledb.ValueType) *internalKey {
	k := &internalKey{}
	appendInternalKey(&k.rep, &parsedInternalKey{userKey: userKey, sequence: seq, valueType: t})
	return k
}

func (k *internalKey) decodeFrom(b []byte) {
	k.rep = make([]byte, len(b))
	copy(k.rep, b)
}

func (k *internalKey) encode() []byte { return k.rep }

func (k *internalKey) userKey() []byte { return extractUserKey(k.rep) }

func (k *internalKey) clear() { k.rep = nil }

func (k *internalKey) debugString() string {
	parsed := new(parsedInternalKey)
	if parseInternalKey(k.rep, parsed) {
		return parsed.debugString()
	}
	return "(bad)" + util.EscapeString(k.rep)
}

// lookupKey packages a user key and snapshot sequence for a point read.
type lookupKey struct {
	ikey []byte
}

func newLookupKey(userKey []byte, seq sequenceNumber) *lookupKey {
	lk := &lookupKey{ikey: make([]byte, 0, len(userKey)+8)}
	lk.ikey = append(lk.ikey, userKey...)
	util.PutFixed64(&lk.ikey, packSequenceAndType(seq, valueTypeForSeek))
	return lk
}

func (k *lookupKey) internalKey() []byte { return k.ikey }

func (k *lookupKey) userKey() []byte { return k.ikey[:len(k.ikey)-8] }
