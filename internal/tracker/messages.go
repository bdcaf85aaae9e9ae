package tracker

import "fmt"

// MsgUnavailableMachineInfo is the stub shown when a workspace has no machines.
const MsgUnavailableMachineInfo = "Machine info is unavailable"

func msgMachineRunning(name string) string {
	return fmt.Sprintf("%s is running", name)
}

func msgMachineDestroyed(name string) string {
	return fmt.Sprintf("%s has been destroyed", name)
}

func msgFailedToFindMachine(name string) string {
	return fmt.Sprintf("failed to find machine %s", name)
}

func msgMachineStarting(name string) string {
	return fmt.Sprintf("Machine %s is starting...", name)
}

func msgMachineNotFound(id string) string {
	return fmt.Sprintf("Machine %s not found", id)
}
