package tangle

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func testID(b byte) MessageID {
	var id MessageID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestMessagePackUnpack(t *testing.T) {
	cases := []*Message{
		NewMessage([]MessageID{NullMessageID}, []byte("hello"), 1),
		NewMessage([]MessageID{testID(1), testID(2)}, nil, 0),
		NewMilestoneMessage([]MessageID{testID(3)}, 7, 1600000000, 99),
	}

	for i, m := range cases {
		b, err := m.Pack()
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}

		if len(b) != m.PackedSize() {
			t.Fatalf("case %d: PackedSize %d, packed %d bytes", i, m.PackedSize(), len(b))
		}

		u, err := UnpackMessage(b)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}

		b2, _ := u.Pack()
		if !bytes.Equal(b, b2) {
			t.Fatalf("case %d: repacked bytes differ\n%s\n%s", i, spew.Sdump(m), spew.Sdump(u))
		}

		id1, _ := m.ID()
		id2, _ := u.ID()
		if id1 != id2 {
			t.Fatalf("case %d: ids differ", i)
		}

		if m.IsMilestone() != u.IsMilestone() {
			t.Fatalf("case %d: milestone flag lost", i)
		}
	}
}

func TestMessageIDChangesWithContent(t *testing.T) {
	a := NewMessage([]MessageID{NullMessageID}, []byte("a"), 1)
	b := NewMessage([]MessageID{NullMessageID}, []byte("a"), 2)

	ida, _ := a.ID()
	idb, _ := b.ID()

	if ida == idb {
		t.Fatal("different messages should have different ids")
	}
}

func TestMessageUnpackErrors(t *testing.T) {
	good, _ := NewMessage([]MessageID{testID(1)}, []byte("x"), 5).Pack()

	tooMany := append([]byte{9}, make([]byte, 9*MessageIDSize+13)...)

	badKind := append([]byte(nil), good...)
	badKind[1+MessageIDSize] = 7

	zeroMilestone, _ := NewMilestoneMessage([]MessageID{testID(1)}, 0, 0, 0).Pack()

	cases := map[string][]byte{
		"empty":          {},
		"no parents":     append([]byte{0}, good[1+MessageIDSize:]...),
		"too many":       tooMany,
		"truncated":      good[:len(good)-1],
		"trailing":       append(append([]byte(nil), good...), 0),
		"unknown kind":   badKind,
		"milestone zero": zeroMilestone,
	}

	for name, b := range cases {
		if _, err := UnpackMessage(b); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}

	if _, err := NewMessage(nil, nil, 0).Pack(); err == nil {
		t.Fatal("Pack without parents should fail")
	}
}

func TestMessageIDHex(t *testing.T) {
	id := testID(0xab)

	parsed, err := MessageIDFromHex(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Fatalf("expected %s, got %s", id, parsed)
	}

	if _, err := MessageIDFromHex("abcd"); err == nil {
		t.Fatal("short id should fail")
	}
}
