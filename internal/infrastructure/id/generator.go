package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const paymentSeqPrefix = "PAY"

type Generator struct {
	now func() time.Time
}

func NewGenerator() *Generator { return &Generator{now: time.Now} }

func (g *Generator) NewID() string { return uuid.NewString() }

// NewPaymentSeq returns PAY_<unix millis>_<first 8 hex digits of a uuid>.
func (g *Generator) NewPaymentSeq() string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", paymentSeqPrefix, g.now().UnixMilli(), short)
}
