package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUndefinedColumn(t *testing.T) {
	drift := &pq.Error{Code: "42703", Message: `column "progress_percent" does not exist`}
	assert.True(t, isUndefinedColumn(drift))
	assert.True(t, isUndefinedColumn(fmt.Errorf("exec: %w", drift)))

	assert.False(t, isUndefinedColumn(&pq.Error{Code: "23505"}))
	assert.False(t, isUndefinedColumn(errors.New("column does not exist")))
	assert.False(t, isUndefinedColumn(nil))
}

func TestSchemaStatementsAreIdempotent(t *testing.T) {
	for _, stmt := range schemaStatements {
		assert.Contains(t, stmt, "IF NOT EXISTS", stmt)
	}
}

func TestJobColumnsCoverRenderFields(t *testing.T) {
	for _, col := range []string{"progress_percent", "render_lease_owner", "render_lease_expires_at", "final_video_url"} {
		assert.True(t, strings.Contains(jobColumns, col), col)
	}
}
