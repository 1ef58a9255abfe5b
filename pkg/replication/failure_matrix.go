package replication

import "fmt"

// CrashPoint names a point in the replication protocol where a process may
// be interrupted, for the failure matrix below (§4.7 "Failure matrix
// (contractual outcomes)").
type CrashPoint int

const (
	CrashSenderBeforeSend CrashPoint = iota
	CrashSenderAfterSend
	CrashReceiverBeforeAppend
	CrashReceiverAfterAppend
	CrashReceiverBeforeAck
	CrashBootstrapDuringTransfer
	CrashBootstrapAfterValidate
	CrashBootstrapDuringInstall
)

func (c CrashPoint) String() string {
	switch c {
	case CrashSenderBeforeSend:
		return "SenderBeforeSend"
	case CrashSenderAfterSend:
		return "SenderAfterSend"
	case CrashReceiverBeforeAppend:
		return "ReceiverBeforeAppend"
	case CrashReceiverAfterAppend:
		return "ReceiverAfterAppend"
	case CrashReceiverBeforeAck:
		return "ReceiverBeforeAck"
	case CrashBootstrapDuringTransfer:
		return "BootstrapDuringTransfer"
	case CrashBootstrapAfterValidate:
		return "BootstrapAfterValidate"
	case CrashBootstrapDuringInstall:
		return "BootstrapDuringInstall"
	default:
		return fmt.Sprintf("CrashPoint(%d)", int(c))
	}
}

// Outcome is the contractually required observable outcome for a given
// CrashPoint, per §4.7's failure matrix.
type Outcome int

const (
	OutcomeNoOp Outcome = iota
	OutcomeDuplicateOnResend
	OutcomeGapOnResume
	OutcomeRetryTransfer
	OutcomeDiscardAndRetry
	OutcomeHaltReplication
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoOp:
		return "NoOp"
	case OutcomeDuplicateOnResend:
		return "DuplicateOnResend"
	case OutcomeGapOnResume:
		return "GapOnResume"
	case OutcomeRetryTransfer:
		return "RetryTransfer"
	case OutcomeDiscardAndRetry:
		return "DiscardAndRetry"
	case OutcomeHaltReplication:
		return "HaltReplication"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// FailureMatrix is the contractual outcome for every named CrashPoint
// (§4.7). It is consulted by tests; it is not itself executable logic — each entry documents what the rest of the
// package (Sender/Receiver/Bootstrap) must already produce.
var FailureMatrix = map[CrashPoint]Outcome{
	CrashSenderBeforeSend:        OutcomeNoOp,
	CrashSenderAfterSend:         OutcomeDuplicateOnResend,
	CrashReceiverBeforeAppend:    OutcomeGapOnResume,
	CrashReceiverAfterAppend:     OutcomeDuplicateOnResend,
	CrashReceiverBeforeAck:       OutcomeDuplicateOnResend,
	CrashBootstrapDuringTransfer: OutcomeRetryTransfer,
	CrashBootstrapAfterValidate:  OutcomeDiscardAndRetry,
	CrashBootstrapDuringInstall:  OutcomeHaltReplication,
}
