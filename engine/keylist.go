package engine

import "encoding/binary"

// Key-list codec (spec.md §3.6, §4.3): a length-prefixed sequence of
// <u16 keylen><keybytes> records packed into an item's value payload, with
// no delimiter between records. Every helper below tolerates a zero-length
// prior list and produces stable forward iteration.

const keylistLenPrefix = 2 // bytes per record length prefix

// keylistNewSize returns the payload length needed to hold k additional
// bytes of raw key data plus its length prefix, added to an existing list.
func keylistNewSize(existing []byte, k int) int {
	return len(existing) + keylistLenPrefix + k
}

// keylistCheck reports whether key is already present in the list.
func keylistCheck(list []byte, key []byte) bool {
	cursor := 0
	for {
		k, _, next, ok := keylistNext(list, cursor)
		if !ok {
			return false
		}
		if string(k) == string(key) {
			return true
		}
		cursor = next
	}
}

// keylistAddKey appends key to list and returns the new payload. Per
// spec.md §4.3, the codec itself does not refuse duplicates — callers
// (the assoc_* helpers in keys.go) check with keylistCheck first.
func keylistAddKey(list []byte, key []byte) []byte {
	out := make([]byte, 0, keylistNewSize(list, len(key)))
	out = append(out, list...)
	var lenBuf [keylistLenPrefix]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(key)))
	out = append(out, lenBuf[:]...)
	out = append(out, key...)
	return out
}

// keylistRmvKey removes the first occurrence of key from list. ok is false
// if key was not present (the codec refuses to remove a missing entry, per
// spec.md §4.3 — callers must not rely on this as a no-op signal for other
// purposes).
func keylistRmvKey(list []byte, key []byte) (out []byte, ok bool) {
	cursor := 0
	for {
		k, recLen, next, present := keylistNext(list, cursor)
		if !present {
			return list, false
		}
		if string(k) == string(key) {
			out = make([]byte, 0, len(list)-recLen)
			out = append(out, list[:cursor]...)
			out = append(out, list[next:]...)
			return out, true
		}
		cursor = next
	}
}

// keylistNext decodes the record at cursor, returning the key bytes, the
// record's encoded length, the next cursor position, and whether a record
// was present. It is the only entry point iteration should use; cursor is
// an opaque byte offset and is stable as long as no concurrent mutation
// occurs (guaranteed by the engine's single global lock).
func keylistNext(list []byte, cursor int) (key []byte, recLen int, next int, ok bool) {
	if cursor >= len(list) {
		return nil, 0, cursor, false
	}
	if cursor+keylistLenPrefix > len(list) {
		panic(errCorruptKeylist("truncated length prefix"))
	}
	klen := int(binary.BigEndian.Uint16(list[cursor : cursor+keylistLenPrefix]))
	start := cursor + keylistLenPrefix
	end := start + klen
	if end > len(list) {
		panic(errCorruptKeylist("record overruns payload"))
	}
	return list[start:end], end - cursor, end, true
}

// keylistEach calls fn for every key in list, stopping early if fn returns
// false.
func keylistEach(list []byte, fn func(key []byte) bool) {
	cursor := 0
	for {
		k, _, next, ok := keylistNext(list, cursor)
		if !ok {
			return
		}
		if !fn(k) {
			return
		}
		cursor = next
	}
}

// keylistEmpty reports whether list encodes zero records.
func keylistEmpty(list []byte) bool {
	return len(list) == 0
}
