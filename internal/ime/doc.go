// Package ime keeps a best-effort mirror of the operating system's input
// method mode and reconciles it with the real thing.
//
// # Architecture Overview
//
// The OS owns the truth about the current language mode. The keyboard can
// only read it through an unreliable, platform-specific channel and change
// it by issuing a physical toggle gesture. Engine holds the believed mode and
// decides when to re-read it:
//
//	┌──────────────┐  CurrentContext   ┌──────────────────┐
//	│   Engine     │──────────────────→│  FocusProvider   │
//	│              │  ReadState        ├──────────────────┤
//	│ believed     │──────────────────→│  ContextReader   │
//	│ mode +       │  Toggle           ├──────────────────┤
//	│ SyncHealth   │──────────────────→│  Toggler         │
//	└──────┬───────┘                   └──────────────────┘
//	       │ exactly one call per genuine change
//	       ↓
//	┌──────────────┐
//	│  listeners   │  (isolated: a panicking listener is logged and skipped)
//	└──────────────┘
//
// # Sync States
//
//	Unsynced ──initial read──→ Synced ──3 failed cycles──→ Recovering
//	                              ↑                             │
//	                              └──── recovered / fallback ───┘
//
// Reconciliation is gated twice: at most once per SyncInterval, and only
// when the focused context changed (or the mirror is known to be stale).
// Failed cycles are counted in Health; reaching FailureThreshold runs the
// staged recovery: force the base language, re-read, and as a last resort
// issue a physical double toggle that is not re-verified.
//
// # Platform Backends
//
//	┌──────────┬─────────────────────────────────────────────────────────┐
//	│ Platform │ Mechanism                                               │
//	├──────────┼─────────────────────────────────────────────────────────┤
//	│ Linux    │ IBus over D-Bus: GlobalEngine, SetGlobalEngine          │
//	│ Windows  │ IMM: ImmGetDefaultIMEWnd + WM_IME_CONTROL, VK_HANGUL    │
//	│ other    │ unsupported; use Static                                 │
//	└──────────┴─────────────────────────────────────────────────────────┘
//
// No error from a backend ever escapes the Engine. Failures are absorbed
// into Health and reported through the Observer and the logger; callers
// see stale state at worst.
package ime
