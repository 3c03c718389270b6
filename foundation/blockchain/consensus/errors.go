package consensus

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the category of a rejection. Callers decide what to do with a
// rejected block or transaction by its kind, not by the specific rule.
type Kind uint8

// Set of rejection kinds.
const (
	KindUnknown Kind = iota
	KindStructural
	KindCrypto
	KindEconomic
	KindTemporal
	KindConflict
	KindCapacity
	KindStorage
)

// String implements the fmt.Stringer interface for logging.
func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindCrypto:
		return "crypto"
	case KindEconomic:
		return "economic"
	case KindTemporal:
		return "temporal"
	case KindConflict:
		return "conflict"
	case KindCapacity:
		return "capacity"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// These errors identify the rule a block or transaction broke. They are
// returned wrapped with detail, so match them with errors.Is.
var (
	// Structural rules.
	ErrBadTxVersion         = newRuleError(KindStructural, "ErrBadTxVersion")
	ErrNoTxInputs           = newRuleError(KindStructural, "ErrNoTxInputs")
	ErrNoTxOutputs          = newRuleError(KindStructural, "ErrNoTxOutputs")
	ErrTooManyTxInputs      = newRuleError(KindStructural, "ErrTooManyTxInputs")
	ErrTooManyTxOutputs     = newRuleError(KindStructural, "ErrTooManyTxOutputs")
	ErrDuplicateTxInputs    = newRuleError(KindStructural, "ErrDuplicateTxInputs")
	ErrUnexpectedNullInput  = newRuleError(KindStructural, "ErrUnexpectedNullInput")
	ErrBadOutputValue       = newRuleError(KindStructural, "ErrBadOutputValue")
	ErrBadCoinbaseData      = newRuleError(KindStructural, "ErrBadCoinbaseData")
	ErrUnexpectedCoinbase   = newRuleError(KindStructural, "ErrUnexpectedCoinbase")
	ErrWrongForkID          = newRuleError(KindStructural, "ErrWrongForkID")
	ErrBadBlockVersion      = newRuleError(KindStructural, "ErrBadBlockVersion")
	ErrNoTransactions       = newRuleError(KindStructural, "ErrNoTransactions")
	ErrFirstTxNotCoinbase   = newRuleError(KindStructural, "ErrFirstTxNotCoinbase")
	ErrMultipleCoinbases    = newRuleError(KindStructural, "ErrMultipleCoinbases")
	ErrBadCoinbaseHeight    = newRuleError(KindStructural, "ErrBadCoinbaseHeight")
	ErrBadMerkleRoot        = newRuleError(KindStructural, "ErrBadMerkleRoot")
	ErrUnexpectedDifficulty = newRuleError(KindStructural, "ErrUnexpectedDifficulty")
	ErrBadTarget            = newRuleError(KindStructural, "ErrBadTarget")
	ErrInvalidAncestor      = newRuleError(KindStructural, "ErrInvalidAncestor")
	ErrDuplicateTxInBlock   = newRuleError(KindStructural, "ErrDuplicateTxInBlock")
	ErrMalformedTransaction = newRuleError(KindStructural, "ErrMalformedTransaction")

	// Signature and proof of work rules.
	ErrUnsupportedSigScheme = newRuleError(KindCrypto, "ErrUnsupportedSigScheme")
	ErrSchemeMismatch       = newRuleError(KindCrypto, "ErrSchemeMismatch")
	ErrLockHashMismatch     = newRuleError(KindCrypto, "ErrLockHashMismatch")
	ErrBadSignatureEncoding = newRuleError(KindCrypto, "ErrBadSignatureEncoding")
	ErrBadSignature         = newRuleError(KindCrypto, "ErrBadSignature")
	ErrHighHash             = newRuleError(KindCrypto, "ErrHighHash")

	// Value, fee and maturity rules.
	ErrImmatureSpend      = newRuleError(KindEconomic, "ErrImmatureSpend")
	ErrSpendTooHigh       = newRuleError(KindEconomic, "ErrSpendTooHigh")
	ErrInputValueOverflow = newRuleError(KindEconomic, "ErrInputValueOverflow")
	ErrBadCoinbaseValue   = newRuleError(KindEconomic, "ErrBadCoinbaseValue")
	ErrInsufficientFee    = newRuleError(KindEconomic, "ErrInsufficientFee")

	// Time and lock time rules.
	ErrTimeTooOld         = newRuleError(KindTemporal, "ErrTimeTooOld")
	ErrTimeTooFarInFuture = newRuleError(KindTemporal, "ErrTimeTooFarInFuture")
	ErrBlockTooSoon       = newRuleError(KindTemporal, "ErrBlockTooSoon")
	ErrTxNotFinal         = newRuleError(KindTemporal, "ErrTxNotFinal")

	// Spend and identity conflicts.
	ErrMissingInput         = newRuleError(KindConflict, "ErrMissingInput")
	ErrDoubleSpendInBlock   = newRuleError(KindConflict, "ErrDoubleSpendInBlock")
	ErrDuplicateTx          = newRuleError(KindConflict, "ErrDuplicateTx")
	ErrDuplicateBlock       = newRuleError(KindConflict, "ErrDuplicateBlock")
	ErrMissingParent        = newRuleError(KindConflict, "ErrMissingParent")
	ErrDoubleSpend          = newRuleError(KindConflict, "ErrDoubleSpend")
	ErrDuplicateTransaction = newRuleError(KindConflict, "ErrDuplicateTransaction")
	ErrRecentlyRejected     = newRuleError(KindConflict, "ErrRecentlyRejected")

	// Size and pool limits.
	ErrTransactionTooLarge = newRuleError(KindCapacity, "ErrTransactionTooLarge")
	ErrBlockTooLarge       = newRuleError(KindCapacity, "ErrBlockTooLarge")
	ErrMempoolFull         = newRuleError(KindCapacity, "ErrMempoolFull")
	ErrSizeLimitExceeded   = newRuleError(KindCapacity, "ErrSizeLimitExceeded")
)

// RuleError identifies a rule violation. It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules.
type RuleError struct {
	kind    Kind
	message string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.message
}

// Kind returns the category of the rule.
func (e RuleError) Kind() Kind {
	return e.kind
}

func newRuleError(kind Kind, message string) RuleError {
	return RuleError{kind: kind, message: message}
}

// ruleError wraps the sentinel with a formatted detail and a stack.
func ruleError(sentinel RuleError, format string, args ...any) error {
	return errors.Wrapf(sentinel, format, args...)
}

// =============================================================================

// StorageError reports a failure of the storage collaborator. It never means
// the block or transaction is invalid.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps a storage failure for the named operation.
func NewStorageError(op string, err error) error {
	return errors.WithStack(&StorageError{Op: op, Err: err})
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying failure.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// KindOf returns the category of err. Errors that are not rule or storage
// errors are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if IsStorageError(err) {
		return KindStorage
	}

	var re RuleError
	if errors.As(err, &re) {
		return re.kind
	}

	return KindUnknown
}
