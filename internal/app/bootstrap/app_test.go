package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskDSN(t *testing.T) {
	cases := []struct{ in, want string }{
		{"postgres://pile:secret@db:5432/pile?sslmode=disable", "postgres://pile:****@db:5432/pile?sslmode=disable"},
		{"postgres://pile@db:5432/pile", "postgres://pile@db:5432/pile"},
		{"postgres://pile:p@ss@db/pile", "postgres://pile:****@db/pile"},
		{"host=db user=pile dbname=pile", "host=db user=pile dbname=pile"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, maskDSN(c.in), c.in)
	}
}
