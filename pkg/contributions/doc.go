// Package contributions merges the UI contributions of loaded modules into
// the widget list and navigation tree served to the admin frontend.
package contributions
