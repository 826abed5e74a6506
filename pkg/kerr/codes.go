package kerr

// Error codes follow MOBIUS/<AREA>/<REASON>.
const (
	CodeInternal = "MOBIUS/CORE/INTERNAL"

	CodeOutOfRange = "MOBIUS/MERKLE/OUT_OF_RANGE"

	CodeInvalidPublicKey = "MOBIUS/IDENTITY/INVALID_PUBLIC_KEY"
	CodeUnknownIdentity  = "MOBIUS/IDENTITY/UNKNOWN"
	CodeInvalidOwner     = "MOBIUS/IDENTITY/INVALID_OWNER"

	CodeInvalidDate       = "MOBIUS/CYCLE/INVALID_DATE"
	CodeInvalidProposer   = "MOBIUS/CYCLE/INVALID_PROPOSER"
	CodeDuplicateCycle    = "MOBIUS/CYCLE/DUPLICATE"
	CodeUnknownCycle      = "MOBIUS/CYCLE/UNKNOWN"
	CodeStatusRegression  = "MOBIUS/CYCLE/STATUS_REGRESSION"
	CodeCycleClosed       = "MOBIUS/CYCLE/CLOSED"
	CodeInvalidVisibility = "MOBIUS/CYCLE/INVALID_VISIBILITY"
	CodeInvalidProof      = "MOBIUS/CYCLE/INVALID_PROOF"
	CodeRateLimit         = "MOBIUS/CYCLE/RATE_LIMIT_EXCEEDED"
	CodeThrottled         = "MOBIUS/CYCLE/THROTTLED"

	CodeInvalidAmount        = "MOBIUS/CREDIT/INVALID_AMOUNT"
	CodeInsufficientFunds    = "MOBIUS/CREDIT/INSUFFICIENT_FUNDS"
	CodeInsufficientStake    = "MOBIUS/CREDIT/INSUFFICIENT_STAKE"
	CodeUnknownAccount       = "MOBIUS/CREDIT/UNKNOWN_ACCOUNT"
	CodeNonceMismatch        = "MOBIUS/CREDIT/NONCE_MISMATCH"
	CodeDuplicateTransaction = "MOBIUS/CREDIT/DUPLICATE_TRANSACTION"
	CodeFeeMismatch          = "MOBIUS/CREDIT/FEE_MISMATCH"
	CodeInvalidTransaction   = "MOBIUS/CREDIT/INVALID_TRANSACTION"
	CodeInvalidReason        = "MOBIUS/CREDIT/INVALID_REASON"
	CodeEpochProcessed       = "MOBIUS/CREDIT/EPOCH_ALREADY_PROCESSED"
	CodePaused               = "MOBIUS/CREDIT/PAUSED"
	CodeConservation         = "MOBIUS/CREDIT/CONSERVATION_VIOLATED"

	CodeChainBreak        = "MOBIUS/CHAIN/BREAK"
	CodeHashMismatch      = "MOBIUS/CHAIN/HASH_MISMATCH"
	CodeRootMismatch      = "MOBIUS/CHAIN/ROOT_MISMATCH"
	CodeStateRootMismatch = "MOBIUS/CHAIN/STATE_ROOT_MISMATCH"
	CodePolicyMismatch    = "MOBIUS/CHAIN/POLICY_MISMATCH"
	CodeCommitteeQuorum   = "MOBIUS/CHAIN/COMMITTEE_QUORUM"
	CodeUnknownBlock      = "MOBIUS/CHAIN/UNKNOWN_BLOCK"

	CodeInvalidPolicy  = "MOBIUS/POLICY/INVALID"
	CodeInvalidVersion = "MOBIUS/POLICY/INVALID_VERSION"

	CodeInsufficientDeposit = "MOBIUS/AGORA/INSUFFICIENT_DEPOSIT"
	CodeProposalNotFound    = "MOBIUS/AGORA/PROPOSAL_NOT_FOUND"
	CodeProposalNotActive   = "MOBIUS/AGORA/PROPOSAL_NOT_ACTIVE"
	CodeVotingWindowClosed  = "MOBIUS/AGORA/VOTING_WINDOW_CLOSED"
	CodeVotingNotOpen       = "MOBIUS/AGORA/VOTING_NOT_OPEN"
	CodeDuplicateVote       = "MOBIUS/AGORA/DUPLICATE_VOTE"
	CodeInvalidProposal     = "MOBIUS/AGORA/INVALID_PROPOSAL"
	CodeInvalidTransition   = "MOBIUS/AGORA/INVALID_TRANSITION"
	CodeExecutionDelay      = "MOBIUS/AGORA/EXECUTION_DELAY"
	CodeProposalNotPassed   = "MOBIUS/AGORA/PROPOSAL_NOT_PASSED"
)

// Kind sentinels.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
	ErrInsufficientStake   = &Error{Kind: KindInsufficientStake}
	ErrInsufficientDeposit = &Error{Kind: KindInsufficientDeposit}
	ErrRateLimitExceeded   = &Error{Kind: KindRateLimitExceeded}
	ErrChainBreak          = &Error{Kind: KindChainBreak}
	ErrHashMismatch        = &Error{Kind: KindHashMismatch}
	ErrProposalNotActive   = &Error{Kind: KindProposalNotActive}
	ErrDuplicateVote       = &Error{Kind: KindDuplicateVote}
	ErrVotingWindowClosed  = &Error{Kind: KindVotingWindowClosed}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInternal            = &Error{Kind: KindInternal}
)

// Coded sentinels.
var (
	ErrOutOfRange = sentinel(KindValidation, CodeOutOfRange)

	ErrInvalidPublicKey = sentinel(KindValidation, CodeInvalidPublicKey)
	ErrUnknownIdentity  = sentinel(KindNotFound, CodeUnknownIdentity)
	ErrInvalidOwner     = sentinel(KindValidation, CodeInvalidOwner)

	ErrInvalidDate       = sentinel(KindValidation, CodeInvalidDate)
	ErrInvalidProposer   = sentinel(KindValidation, CodeInvalidProposer)
	ErrDuplicateCycle    = sentinel(KindConflict, CodeDuplicateCycle)
	ErrUnknownCycle      = sentinel(KindNotFound, CodeUnknownCycle)
	ErrStatusRegression  = sentinel(KindValidation, CodeStatusRegression)
	ErrCycleClosed       = sentinel(KindValidation, CodeCycleClosed)
	ErrInvalidVisibility = sentinel(KindValidation, CodeInvalidVisibility)
	ErrInvalidProof      = sentinel(KindValidation, CodeInvalidProof)
	ErrRateLimit         = sentinel(KindRateLimitExceeded, CodeRateLimit)
	ErrThrottled         = sentinel(KindRateLimitExceeded, CodeThrottled)

	ErrInvalidAmount        = sentinel(KindValidation, CodeInvalidAmount)
	ErrFunds                = sentinel(KindInsufficientFunds, CodeInsufficientFunds)
	ErrStake                = sentinel(KindInsufficientStake, CodeInsufficientStake)
	ErrUnknownAccount       = sentinel(KindNotFound, CodeUnknownAccount)
	ErrNonceMismatch        = sentinel(KindValidation, CodeNonceMismatch)
	ErrDuplicateTransaction = sentinel(KindValidation, CodeDuplicateTransaction)
	ErrFeeMismatch          = sentinel(KindValidation, CodeFeeMismatch)
	ErrInvalidTransaction   = sentinel(KindValidation, CodeInvalidTransaction)
	ErrInvalidReason        = sentinel(KindValidation, CodeInvalidReason)
	ErrEpochProcessed       = sentinel(KindConflict, CodeEpochProcessed)
	ErrPaused               = sentinel(KindValidation, CodePaused)
	ErrConservation         = sentinel(KindInternal, CodeConservation)

	ErrBrokenChain      = sentinel(KindChainBreak, CodeChainBreak)
	ErrBlockHash        = sentinel(KindHashMismatch, CodeHashMismatch)
	ErrRootMismatch     = sentinel(KindHashMismatch, CodeRootMismatch)
	ErrStateRoot        = sentinel(KindHashMismatch, CodeStateRootMismatch)
	ErrPolicyMismatch   = sentinel(KindValidation, CodePolicyMismatch)
	ErrCommitteeQuorum  = sentinel(KindValidation, CodeCommitteeQuorum)
	ErrUnknownBlock     = sentinel(KindNotFound, CodeUnknownBlock)
	ErrInvalidPolicy    = sentinel(KindValidation, CodeInvalidPolicy)
	ErrInvalidVersion   = sentinel(KindValidation, CodeInvalidVersion)
	ErrDeposit          = sentinel(KindInsufficientDeposit, CodeInsufficientDeposit)
	ErrProposalNotFound = sentinel(KindNotFound, CodeProposalNotFound)
	ErrNotActive        = sentinel(KindProposalNotActive, CodeProposalNotActive)
	ErrWindowClosed     = sentinel(KindVotingWindowClosed, CodeVotingWindowClosed)
	ErrVotingNotOpen    = sentinel(KindVotingWindowClosed, CodeVotingNotOpen)
	ErrVoteExists       = sentinel(KindDuplicateVote, CodeDuplicateVote)
	ErrInvalidProposal  = sentinel(KindValidation, CodeInvalidProposal)
	ErrTransition       = sentinel(KindValidation, CodeInvalidTransition)
	ErrExecutionDelay   = sentinel(KindValidation, CodeExecutionDelay)
	ErrNotPassed        = sentinel(KindValidation, CodeProposalNotPassed)
)
