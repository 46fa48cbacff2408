// Package bridge owns the lifecycle of the native module and its single
// execution entry point.
//
// # State Machine
//
//	Uninitialized ──► Compiling ──► Loaded ──► Ready
//	                      │            │         │
//	                      ▼            ▼         │ new source digest
//	                    Broken ◄───────┴─────────┘──► Compiling
//
// The first Execute loads the fixed support module and compiles the job
// module. Later calls reuse the loaded module while the source digest is
// unchanged and recompile only the job module when it differs. The support
// module is never loaded twice.
//
// Any compile or load failure moves the bridge to Broken. The failure is
// returned once; every later call fails with BridgeUnavailable without
// touching the provider.
//
// # Exit Status
//
// Execute returns the status reported by the module. A nonzero status is
// trusted only when an exception slot explains it; otherwise the call fails
// with NativeFault.
package bridge
