package store

import (
	"encoding/binary"
	"hash/crc32"
)

// checksum computes a CRC32-IEEE checksum over the fields that matter for
// detecting a truncated or corrupted append: seq, type, job id, and the
// terminal status, since that's the field replay decisions hinge on.
func checksum(rec Record) uint32 {
	h := crc32.NewIEEE()
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], rec.Seq)
	h.Write(seqBuf[:])
	h.Write([]byte(rec.Type))
	h.Write([]byte(rec.JobID))
	h.Write([]byte(rec.Status))
	return h.Sum32()
}

// verifyChecksum reports whether rec's stored checksum matches its
// recomputed value.
func verifyChecksum(rec Record) bool {
	want := rec.Checksum
	rec.Checksum = 0
	return checksum(rec) == want
}
