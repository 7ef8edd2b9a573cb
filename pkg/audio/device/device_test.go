package device

import (
	"errors"
	"testing"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/livetalk/pkg/audio"
)

func TestMatchName(t *testing.T) {
	t.Parallel()

	names := []string{"Built-in Microphone", "USB Headset Mic", "Monitor of USB Headset"}
	tests := []struct {
		id   string
		want int
	}{
		{"usb headset mic", 1},
		{"headset", 1},
		{"monitor", 2},
		{"BUILT-IN", 0},
		{"bluetooth", -1},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			t.Parallel()
			if got := matchName(names, tc.id); got != tc.want {
				t.Errorf("matchName(%q) = %d, want %d", tc.id, got, tc.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	if KindCapture.String() != "capture" || KindPlayback.String() != "playback" {
		t.Errorf("Kind strings = %q, %q", KindCapture, KindPlayback)
	}
}

func TestResolve_IndexAndDefault(t *testing.T) {
	t.Parallel()

	infos := make([]malgo.DeviceInfo, 3)
	tests := []struct {
		id      string
		want    int
		wantErr bool
	}{
		{"", -1, false},
		{"  ", -1, false},
		{"0", 0, false},
		{" 2 ", 2, false},
		{"3", 0, true},
		{"-1", 0, true},
		{"speakers", 0, true},
	}
	for _, tc := range tests {
		got, err := resolve(infos, tc.id)
		if tc.wantErr {
			if !errors.Is(err, audio.ErrDeviceNotFound) {
				t.Errorf("resolve(%q) err = %v, want ErrDeviceNotFound", tc.id, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("resolve(%q) = %d, %v; want %d", tc.id, got, err, tc.want)
		}
	}
}

func TestSampleFormat(t *testing.T) {
	t.Parallel()

	if got, err := sampleFormat(audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}); err != nil || got != malgo.FormatS16 {
		t.Errorf("16 bit = %v, %v; want FormatS16", got, err)
	}
	if _, err := sampleFormat(audio.Format{SampleRate: 48000, Channels: 2, BitsPerSample: 24}); err == nil {
		t.Error("24 bit accepted")
	}
}
