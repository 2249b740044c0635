package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWildcardToRegex(t *testing.T) {
	tests := []struct {
		pattern string
		match   []string
		reject  []string
	}{
		{"*.csv", []string{"a.csv", ".csv", "x.y.csv"}, []string{"a.csv.bak", "a.CSV"}},
		{"file?.txt", []string{"file1.txt", "fileA.txt"}, []string{"file.txt", "file12.txt"}},
		{"data[1].json", []string{"data[1].json"}, []string{"data1.json"}},
		{"a+b(c).log", []string{"a+b(c).log"}, []string{"aab(c).log"}},
		{"report.txt", []string{"report.txt"}, []string{"reportXtxt", "my-report.txt"}},
		{"*", []string{"", "anything"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			re := WildcardToRegex(tt.pattern)
			for _, s := range tt.match {
				assert.True(t, re.MatchString(s), "%q should match %q", tt.pattern, s)
			}
			for _, s := range tt.reject {
				assert.False(t, re.MatchString(s), "%q should not match %q", tt.pattern, s)
			}
		})
	}
}

func TestHasWildcard(t *testing.T) {
	assert.True(t, HasWildcard("in/*.csv"))
	assert.True(t, HasWildcard("f?.txt"))
	assert.False(t, HasWildcard("in/plain.csv"))
}

func TestEndpointTable_Resolve(t *testing.T) {
	table := DefaultEndpoints()

	region, ok := table.Resolve("s3.amazonaws.com")
	assert.True(t, ok)
	assert.Equal(t, "us-east-1", region)

	region, ok = table.Resolve("S3.AP-SOUTHEAST-2.AMAZONAWS.COM")
	assert.True(t, ok)
	assert.Equal(t, "ap-southeast-2", region)

	region, ok = table.Resolve("s3.cn-north-1.amazonaws.com.cn")
	assert.True(t, ok)
	assert.Equal(t, "cn-north-1", region)

	_, ok = table.Resolve("mybucket")
	assert.False(t, ok)
	_, ok = table.Resolve("")
	assert.False(t, ok)
}
