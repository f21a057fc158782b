package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintResultReportsFailure(t *testing.T) {
	err := printResult(Result{Error: "payment required"})
	assert.True(t, errors.Is(err, errFetchFailed))

	assert.NoError(t, printResult(Result{Success: true, StatusCode: 200}))
}

func TestRunExitCodes(t *testing.T) {
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"unknown"}))
}
