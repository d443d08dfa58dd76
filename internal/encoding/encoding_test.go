package encoding

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{name: "simple vector", vector: []float32{1.0, 2.0, 3.0}},
		{name: "single element", vector: []float32{0.5}},
		{name: "negative values", vector: []float32{-1.5, 0.0, 2.25}},
		{name: "tiny values", vector: []float32{1e-30, -1e-30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeVector(tt.vector)
			if err != nil {
				t.Fatalf("EncodeVector() error = %v", err)
			}
			if len(data) != len(tt.vector)*4 {
				t.Errorf("encoded length = %d, want %d", len(data), len(tt.vector)*4)
			}

			decoded, err := DecodeVector(data)
			if err != nil {
				t.Fatalf("DecodeVector() error = %v", err)
			}
			if len(decoded) != len(tt.vector) {
				t.Fatalf("decoded length = %d, want %d", len(decoded), len(tt.vector))
			}
			for i := range tt.vector {
				if decoded[i] != tt.vector[i] {
					t.Errorf("decoded[%d] = %v, want %v", i, decoded[i], tt.vector[i])
				}
			}
		})
	}
}

func TestEncodeVectorEmpty(t *testing.T) {
	if _, err := EncodeVector(nil); err == nil {
		t.Error("EncodeVector(nil) should fail")
	}
	if _, err := EncodeVector([]float32{}); err == nil {
		t.Error("EncodeVector(empty) should fail")
	}
}

func TestDecodeVectorInvalidLength(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeVector with length not a multiple of 4 should fail")
	}
}

func TestValidateVector(t *testing.T) {
	tests := []struct {
		name    string
		vector  []float32
		wantErr bool
	}{
		{name: "valid", vector: []float32{0.1, 0.2}, wantErr: false},
		{name: "empty", vector: nil, wantErr: true},
		{name: "NaN", vector: []float32{float32(math.NaN())}, wantErr: true},
		{name: "positive infinity", vector: []float32{float32(math.Inf(1))}, wantErr: true},
		{name: "negative infinity", vector: []float32{float32(math.Inf(-1))}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVector(tt.vector)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVector() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	meta := map[string]string{"source": "wiki", "lang": "en"}
	s, err := EncodeMetadata(meta)
	if err != nil {
		t.Fatalf("EncodeMetadata() error = %v", err)
	}
	decoded, err := DecodeMetadata(s)
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}
	if len(decoded) != len(meta) {
		t.Fatalf("decoded %d keys, want %d", len(decoded), len(meta))
	}
	for k, v := range meta {
		if decoded[k] != v {
			t.Errorf("decoded[%q] = %q, want %q", k, decoded[k], v)
		}
	}
}

func TestDecodeMetadataEmpty(t *testing.T) {
	decoded, err := DecodeMetadata("")
	if err != nil {
		t.Fatalf("DecodeMetadata(\"\") error = %v", err)
	}
	if decoded != nil {
		t.Errorf("DecodeMetadata(\"\") = %v, want nil", decoded)
	}
}
