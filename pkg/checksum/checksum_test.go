package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Digest
	}{
		{
			name: "known vector",
			data: []byte("hello world"),
			want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
		{
			name: "empty input",
			data: []byte{},
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name: "nil input",
			data: nil,
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sum(tt.data))
		})
	}
}

func TestSumDeterministic(t *testing.T) {
	data := []byte("name: Bug Report\ndescription: File a bug\n")
	assert.Equal(t, Sum(data), Sum(data))
}

func TestSumDistinguishesContent(t *testing.T) {
	assert.NotEqual(t, Sum([]byte("X")), Sum([]byte("Y")))

	// Empty content and absent content are distinct states; the empty
	// digest still identifies empty content unambiguously.
	assert.False(t, Sum([]byte{}).IsZero())
	assert.True(t, Digest("").IsZero())
}
