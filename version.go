package tabflow

// InstrumentationVersion is reported with the otel instrumentation scope.
const InstrumentationVersion = "0.1.0"
