package platform

// Package platform contains integration points with the host system and the
// yt-dlp tooling that sit outside the core download pipeline: collection
// probing (flat playlist listing) and filesystem helpers.
