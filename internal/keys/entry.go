package keys

import (
	"github.com/roach88/braid/internal/ir"
)

// SignEntry fills e.Signature. The signer must own e.Writer.
func SignEntry(s Signer, e *ir.Entry) error {
	if s.Public() != e.Writer {
		return ir.Validationf("signer %s cannot sign for writer %s", s.Public().Short(), e.Writer.Short())
	}
	msg, err := ir.SigningBytes(*e)
	if err != nil {
		return ir.WrapError(ir.CodeValidation, "signing bytes", err)
	}
	e.Signature = s.Sign(msg)
	return nil
}

// VerifyEntry checks the entry's shape and signature. Failures are
// ValidationErrors: the entry is skipped, never fatal.
func VerifyEntry(v Verifier, e ir.Entry) error {
	if e.Seq == 0 {
		return ir.Validationf("entry %s: seq must start at 1", e.Ref())
	}
	if _, err := PublicKeyBytes(e.Writer); err != nil {
		return ir.WrapError(ir.CodeValidation, "entry writer", err)
	}
	if own, ok := e.Clock[e.Writer]; ok && own >= e.Seq {
		return ir.Validationf("entry %s: clock claims own seq %d", e.Ref(), own)
	}
	msg, err := ir.SigningBytes(e)
	if err != nil {
		return ir.WrapError(ir.CodeValidation, "signing bytes", err)
	}
	if !v.Verify(e.Writer, msg, e.Signature) {
		return ir.Validationf("entry %s: bad signature", e.Ref())
	}
	return nil
}
