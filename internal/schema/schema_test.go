package schema

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/ir"
)

const roomSchema = `
#Payload: {
	id:   string & !=""
	name: string & !=""
	tags?: [...string]
}
`

func TestCompileRequiresPayloadDefinition(t *testing.T) {
	_, err := Compile("empty", `x: 1`)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "#Payload", ce.Field)
}

func TestCompileReportsSyntaxErrors(t *testing.T) {
	_, err := Compile("broken", `#Payload: {`)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	s, err := Compile("create-room", roomSchema)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"id":"r1","name":"Test"}`, false},
		{"optional list", `{"id":"r1","name":"Test","tags":["a"]}`, false},
		{"missing name", `{"id":"r1"}`, true},
		{"empty id", `{"id":"","name":"Test"}`, true},
		{"wrong type", `{"id":1,"name":"Test"}`, true},
		{"unknown field", `{"id":"r1","name":"Test","extra":true}`, true},
		{"not json", `{`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ir.IsValidation(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateConcurrent(t *testing.T) {
	s := MustCompile("ping", `#Payload: {n: int}`)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, s.Validate([]byte(`{"n":1}`)))
			}
		}()
	}
	wg.Wait()
}

func TestMustCompilePanics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("bad", `#Payload: {`) })
	assert.Equal(t, "ping", MustCompile("ping", `#Payload: {}`).Name())
}
