package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(WriteResult{Table: "todos", PK: "r1", DBVersion: 3})
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   WriteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(3), resp.Data.DBVersion)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("SCHEMA_VIOLATION", "unknown column todos.colour", map[string]string{"table": "todos"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SCHEMA_VIOLATION", resp.Error.Code)
	assert.Equal(t, "unknown column todos.colour", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("TRANSPORT_FAILURE", "peer unreachable", map[string]string{"peer": "http://a:7400"}))
			assert.Contains(t, buf.String(), "Error [TRANSPORT_FAILURE]: peer unreachable")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details:")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	rows := [][]string{{"r1", "2", "milk"}, {"r2", "2", "eggs"}}
	require.NoError(t, formatter.Table([]string{"PK", "CL", "LABEL"}, rows, nil))

	out := buf.String()
	assert.Contains(t, out, "PK")
	assert.Contains(t, out, "LABEL")
	assert.Contains(t, out, "milk")
	assert.Contains(t, out, "eggs")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("milk")), bytes.Index(buf.Bytes(), []byte("eggs")))
}

func TestOutputFormatter_TableEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Table([]string{"PEER"}, nil, nil))
	assert.Equal(t, "(none)\n", buf.String())
}

func TestOutputFormatter_TableJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	data := []RowResult{{Table: "todos", PK: "r1", CausalLength: 2, Live: true}}
	require.NoError(t, formatter.Table([]string{"PK"}, [][]string{{"r1"}}, data))

	var resp struct {
		Status string      `json:"status"`
		Data   []RowResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "r1", resp.Data[0].PK)
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		verbose bool
		wantOut bool
		wantErr bool
	}{
		{"verbose_text", "text", true, false, true},
		{"verbose_json", "json", true, false, true},
		{"quiet", "text", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    tt.format,
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("pulling from %s", "http://a:7400")

			assert.Equal(t, tt.wantOut, out.Len() > 0)
			if tt.wantErr {
				assert.Contains(t, errOut.String(), "pulling from http://a:7400")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestGetErrWriter_FallsBackToWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}
	formatter.VerboseLog("hello")
	assert.Equal(t, "hello\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"command", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped", WrapExitError(ExitFailure, "sync failed", errors.New("refused")), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapExitError(ExitFailure, "sync failed", cause)
	assert.Equal(t, "sync failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad flag", NewExitError(ExitCommandError, "bad flag").Error())
}
