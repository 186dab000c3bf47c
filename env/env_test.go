package env_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vcskit/gitcore/env"
)

func TestNewFromOs(t *testing.T) {
	t.Setenv("GITCORE_TEST_VAR", "a=b")

	e := env.NewFromOs()
	assert.True(t, e.Has("GITCORE_TEST_VAR"))
	assert.Equal(t, "a=b", e.Get("GITCORE_TEST_VAR"))
}

func TestGet(t *testing.T) {
	t.Parallel()

	e := env.NewFromKVList([]string{
		"VERSION=1",
		"ENABLE=true",
		"PATH=a:b:c",
		"QUERY=a=b",
		"X=",
	})

	testCases := []struct {
		desc        string
		input       string
		expected    string
		expectedHas bool
	}{
		{desc: "regular value", input: "VERSION", expected: "1", expectedHas: true},
		{desc: "value with separators", input: "PATH", expected: "a:b:c", expectedHas: true},
		{desc: "value containing =", input: "QUERY", expected: "a=b", expectedHas: true},
		{desc: "empty value", input: "X", expected: "", expectedHas: true},
		{desc: "missing value", input: "NOPE", expected: "", expectedHas: false},
		{desc: "keys are case sensitive", input: "version", expected: "", expectedHas: false},
	}
	for i, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%d/%s", i, tc.desc), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, e.Get(tc.input))
			assert.Equal(t, tc.expectedHas, e.Has(tc.input))
		})
	}
}

func TestIsTrue(t *testing.T) {
	t.Parallel()

	e := env.NewFromKVList([]string{"A=1", "B=Yes", "C=false", "D=on"})
	assert.True(t, e.IsTrue("A"))
	assert.True(t, e.IsTrue("B"))
	assert.False(t, e.IsTrue("C"))
	assert.True(t, e.IsTrue("D"))
	assert.False(t, e.IsTrue("E"))
}
