package secure

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecureBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"text", []byte("my-secret-password")},
		{"empty", []byte{}},
		{"binary", []byte{0x00, 0xFF, 0x10, 0x20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			expected := bytes.Clone(tt.data)
			buf, err := NewSecureBuffer(tt.data)
			require.NoError(t, err)
			defer buf.Destroy()

			locked, err := buf.Open()
			require.NoError(t, err)
			defer locked.Destroy()
			assert.Equal(t, len(expected), len(locked.Bytes()))
			if len(expected) > 0 {
				assert.Equal(t, expected, locked.Bytes())
			}
		})
	}
}

func TestSecureBuffer_Reveal(t *testing.T) {
	t.Parallel()

	buf := SealString("hunter2")
	defer buf.Destroy()

	for i := 0; i < 3; i++ {
		got, err := buf.Reveal()
		require.NoError(t, err)
		assert.Equal(t, "hunter2", got)
	}
}

func TestSecureBuffer_Destroy(t *testing.T) {
	t.Parallel()

	buf := SealString("sensitive-data-to-wipe")
	buf.Destroy()
	buf.Destroy()

	got, err := buf.Reveal()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSecureBuffer_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	buf := SealString("concurrent-secret")
	defer buf.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := buf.Reveal()
			assert.NoError(t, err)
			assert.Equal(t, "concurrent-secret", got)
		}()
	}
	wg.Wait()
}

// BenchmarkSecureBuffer measures the overhead of sealing and opening
func BenchmarkSecureBuffer(b *testing.B) {
	b.Run("Seal", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			SealString("benchmark-secret-data").Destroy()
		}
	})

	b.Run("Reveal", func(b *testing.B) {
		buf := SealString("benchmark-secret-data")
		defer buf.Destroy()

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = buf.Reveal()
		}
	})
}
