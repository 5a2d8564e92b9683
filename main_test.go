package main

import (
	"net"
	"testing"
	"time"
)

func TestParseTCPKeepAlive(t *testing.T) {
	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:30:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 30 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "45:30", wantErr: true},
		{in: "0:30:3", wantErr: true},
		{in: "45:x:3", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTCPKeepAlive(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("%q: got %+v want %+v", tt.in, got, tt.want)
		}
	}
}

func TestBuildPolicy(t *testing.T) {
	p, closeFn, err := buildPolicy(nil, nil, nil, "", nil)
	if err != nil || p != nil {
		t.Fatalf("empty rules: got %v err=%v", p, err)
	}
	closeFn()

	p, closeFn, err = buildPolicy([]string{"10.0.0.0/8"}, []string{"10.9.0.0/16"}, []string{"example.org"}, "", nil)
	if err != nil || p == nil {
		t.Fatalf("got %v err=%v", p, err)
	}
	closeFn()

	if _, _, err := buildPolicy([]string{"nope"}, nil, nil, "", nil); err == nil {
		t.Fatal("expected error for bad prefix")
	}
	if _, _, err := buildPolicy(nil, nil, nil, "", []string{"XX"}); err == nil {
		t.Fatal("expected error for countries without a database")
	}
	if _, _, err := buildPolicy(nil, nil, nil, "/nonexistent.mmdb", []string{"XX"}); err == nil {
		t.Fatal("expected error for missing database")
	}
}
