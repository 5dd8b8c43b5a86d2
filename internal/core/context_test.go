package core

import (
	"context"
	"testing"
)

func TestUploaderContext(t *testing.T) {
	if _, ok := UploaderFromContext(context.Background()); ok {
		t.Fatal("empty context reported an uploader")
	}

	want := Uploader{IP: "198.51.100.4", UserAgent: "curl/8"}
	got, ok := UploaderFromContext(WithUploader(context.Background(), want))
	if !ok || got != want {
		t.Errorf("UploaderFromContext() = %+v, %v; want %+v", got, ok, want)
	}

	fields := want.logFields()
	if len(fields) != 4 || fields[1] != "198.51.100.4" {
		t.Errorf("logFields() = %v", fields)
	}
}
