// Package imagesearch finds openly-licensed stock images through the
// Openverse API and downloads them into job workspaces.
package imagesearch
