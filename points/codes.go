package points

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultCodePrefix starts every redemption code, e.g. "SHOP-3F9A01C24B7E".
const DefaultCodePrefix = "SHOP-"

// codeHexLen is the number of random hex digits after the prefix. The
// first 12 hex digits of a v4 UUID are all random, giving 48 bits.
const codeHexLen = 12

// CodeGenerator produces human-presentable redemption codes. Uniqueness
// is enforced by the store; Generate only needs to make collisions rare.
type CodeGenerator interface {
	Generate() string
}

// CodeGeneratorFunc adapts a function to CodeGenerator.
type CodeGeneratorFunc func() string

func (f CodeGeneratorFunc) Generate() string { return f() }

type uuidCodes struct {
	prefix string
}

func NewCodeGenerator(prefix string) CodeGenerator {
	return uuidCodes{prefix: prefix}
}

func (g uuidCodes) Generate() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return g.prefix + strings.ToUpper(hex[:codeHexLen])
}
