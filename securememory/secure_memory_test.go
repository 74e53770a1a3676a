package securememory

import (
	"bytes"
	"testing"
)

func TestStoreAndUse(t *testing.T) {
	entry := Manager.Store("test_key", []byte("super-secret"))
	var seen []byte
	err := entry.Use(func(data []byte) error {
		seen = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	if !bytes.Equal(seen, []byte("super-secret")) {
		t.Errorf("got %q", seen)
	}
}

func TestUseRepeatedly(t *testing.T) {
	entry := Manager.Store("test_repeat", []byte("value"))
	for i := 0; i < 3; i++ {
		err := entry.Use(func(data []byte) error {
			if string(data) != "value" {
				t.Errorf("pass %d got %q", i, data)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Use pass %d: %v", i, err)
		}
	}
}

func TestGetAndDestroy(t *testing.T) {
	Manager.Store("test_destroy", []byte("value"))
	entry, err := Manager.Get("test_destroy")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Key != "test_destroy" {
		t.Errorf("unexpected key %s", entry.Key)
	}
	Manager.Destroy("test_destroy")
	_, err = Manager.Get("test_destroy")
	if err == nil {
		t.Fatal("expected an error after Destroy")
	}
}

func TestStoreReplaces(t *testing.T) {
	Manager.Store("test_replace", []byte("first"))
	Manager.Store("test_replace", []byte("second"))
	entry, err := Manager.Get("test_replace")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	err = entry.Use(func(data []byte) error {
		if string(data) != "second" {
			t.Errorf("got %q", data)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
}
