package exitcodes

// Exit codes for the rip command.
// These codes form the contract with scripts that wrap it.
const (
	Success             = 0 // Successful execution
	InvalidConfig       = 2 // Configuration file invalid or bad usage
	SafetyViolation     = 3 // Safety validator refused the target
	RuntimeError        = 4 // Runtime error during execution
	NotFound            = 5 // Target or graveyard entry does not exist
	LockContention      = 6 // Record lock could not be acquired in time
	DestinationOccupied = 7 // Restore target already exists
)
