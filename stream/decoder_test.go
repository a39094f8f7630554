package stream

import (
	"reflect"
	"testing"
)

func TestDecoderFeed(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
		rest   string
	}{
		{
			name:   "single chunk single line",
			chunks: []string{"data: {\"type\":\"token\"}\n"},
			want:   []string{`data: {"type":"token"}`},
		},
		{
			name:   "many records in one chunk",
			chunks: []string{"a\nb\nc\n"},
			want:   []string{"a", "b", "c"},
		},
		{
			name:   "record split across chunks",
			chunks: []string{"data: {\"ty", "pe\":\"done\"}", "\n"},
			want:   []string{`data: {"type":"done"}`},
		},
		{
			name:   "crlf terminators",
			chunks: []string{"a\r\nb\r\n"},
			want:   []string{"a", "b"},
		},
		{
			name:   "trailing partial retained",
			chunks: []string{"a\npartial"},
			want:   []string{"a"},
			rest:   "partial",
		},
		{
			name:   "blank lines preserved as empty strings",
			chunks: []string{"\n\na\n"},
			want:   []string{"", "", "a"},
		},
		{
			name:   "empty chunk is a no-op",
			chunks: []string{"", "a\n", ""},
			want:   []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Decoder
			var got []string
			for _, chunk := range tt.chunks {
				got = append(got, d.Feed([]byte(chunk))...)
			}

			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Feed() lines = %q, want %q", got, tt.want)
			}
			if d.Rest() != tt.rest {
				t.Errorf("Rest() = %q, want %q", d.Rest(), tt.rest)
			}
		})
	}
}

// TestDecoderChunkingInvariance verifies the core decoder guarantee: any
// fragmentation of the same bytes yields the same lines in the same order.
func TestDecoderChunkingInvariance(t *testing.T) {
	input := "data: {\"type\":\"step\",\"step\":\"thinking\"}\n" +
		"data: {\"type\":\"token\",\"content\":\"Hi\"}\n" +
		": keep-alive\n" +
		"data: {\"type\":\"done\",\"thread_id\":7}\n"

	// Reference: the whole stream in one chunk.
	var ref Decoder
	want := ref.Feed([]byte(input))
	if len(want) != 4 {
		t.Fatalf("reference decode produced %d lines, want 4", len(want))
	}

	t.Run("one byte at a time", func(t *testing.T) {
		var d Decoder
		var got []string
		for i := 0; i < len(input); i++ {
			got = append(got, d.Feed([]byte{input[i]})...)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("byte-at-a-time decode = %q, want %q", got, want)
		}
	})

	t.Run("every split point", func(t *testing.T) {
		for split := 0; split <= len(input); split++ {
			var d Decoder
			got := d.Feed([]byte(input[:split]))
			got = append(got, d.Feed([]byte(input[split:]))...)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("split at %d: decode = %q, want %q", split, got, want)
			}
			if d.Rest() != "" {
				t.Fatalf("split at %d: Rest() = %q, want empty", split, d.Rest())
			}
		}
	})
}
