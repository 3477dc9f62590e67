package providers

// Args are the command-line arguments handed to the config loader.
type Args []string
