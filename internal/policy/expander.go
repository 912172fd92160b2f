// Package policy holds the static blocking tables: which hostnames a site
// expands to, which provider networks belong to it, and which DNS-over-HTTPS
// endpoints are always blocked.
package policy

// CommonSubdomains are prefixed to every site.
var CommonSubdomains = []string{"mobile", "m", "api", "static", "cdn", "pbs", "abs", "video"}

var xDomains = []string{
	"x.com", "www.x.com", "mobile.x.com", "api.x.com",
	"twitter.com", "www.twitter.com", "mobile.twitter.com", "api.twitter.com",
	"t.co", "www.t.co",
	"twimg.com", "pbs.twimg.com", "abs.twimg.com", "video.twimg.com",
}

// Hosts files have no wildcard support, so regional CDN edges are listed
// one by one.
var instagramDomains = []string{
	"instagram.com", "www.instagram.com", "i.instagram.com",
	"graph.instagram.com", "edge-chat.instagram.com",
	"scontent.cdninstagram.com", "cdninstagram.com",
	"www.cdninstagram.com", "static.cdninstagram.com",
	"scontent-lax3-1.cdninstagram.com",
	"scontent-lax3-2.cdninstagram.com",
	"scontent-iad3-1.cdninstagram.com",
	"scontent-iad3-2.cdninstagram.com",
	"scontent-atl3-1.cdninstagram.com",
	"scontent-atl3-2.cdninstagram.com",
	"scontent-dfw5-1.cdninstagram.com",
	"scontent-dfw5-2.cdninstagram.com",
	"scontent-sea1-1.cdninstagram.com",
	"scontent-mia3-1.cdninstagram.com",
	"scontent-ord5-1.cdninstagram.com",
	"scontent-den4-1.cdninstagram.com",
	"l.instagram.com", "b.i.instagram.com",
	"about.instagram.com", "help.instagram.com",
	"web.instagram.com", "d.instagram.com",
	"z-p3-graph.instagram.com", "z-p4-graph.instagram.com",
	"gateway.instagram.com", "lookaside.instagram.com",
	"lookaside.fbsbx.com",
	"edge-mqtt.instagram.com", "platform.instagram.com",
	"accountscenter.instagram.com",
}

var facebookDomains = []string{
	"facebook.com", "www.facebook.com", "m.facebook.com",
	"web.facebook.com", "mobile.facebook.com",
	"graph.facebook.com", "edge-chat.facebook.com",
	"static.facebook.com", "staticxx.facebook.com",
	"upload.facebook.com", "l.facebook.com",
	"fbcdn.net", "static.xx.fbcdn.net", "scontent.xx.fbcdn.net",
	"video.xx.fbcdn.net", "external.xx.fbcdn.net",
	"fbcdn.com", "connect.facebook.net",
	"star.facebook.com", "z-m-graph.facebook.com",
}

var youtubeDomains = []string{
	"youtube.com", "www.youtube.com", "m.youtube.com",
	"youtu.be", "www.youtu.be",
	"youtube-nocookie.com", "www.youtube-nocookie.com",
	"googlevideo.com", "www.googlevideo.com",
	"ytimg.com", "i.ytimg.com", "s.ytimg.com",
	"music.youtube.com", "tv.youtube.com",
	"accounts.youtube.com", "studio.youtube.com",
}

var tiktokDomains = []string{
	"tiktok.com", "www.tiktok.com", "m.tiktok.com",
	"vm.tiktok.com", "t.tiktok.com",
	"sf-tb-sg.ibytedtos.com", "v16m-default.akamaized.net",
	"mon.musical.ly", "log.tiktokv.com",
	"ib.tiktokv.com", "api.tiktokv.com",
}

var redditDomains = []string{
	"reddit.com", "www.reddit.com", "old.reddit.com",
	"new.reddit.com", "i.reddit.com", "m.reddit.com",
	"sh.reddit.com", "oauth.reddit.com",
	"redd.it", "i.redd.it", "v.redd.it", "preview.redd.it",
	"external-preview.redd.it", "www.redditmedia.com",
	"redditstatic.com", "www.redditstatic.com",
}

// platformDomains maps a known site to the extra hostnames it needs.
// x.com and twitter.com share one list.
var platformDomains = map[string][]string{
	"x.com":         xDomains,
	"twitter.com":   xDomains,
	"instagram.com": instagramDomains,
	"facebook.com":  facebookDomains,
	"youtube.com":   youtubeDomains,
	"tiktok.com":    tiktokDomains,
	"reddit.com":    redditDomains,
}

// firewallDomains are the extra hostnames worth resolving for IP rules.
// Resolving the full hosts expansion would be slow and mostly redundant.
var firewallDomains = map[string][]string{
	"instagram.com": {
		"i.instagram.com", "graph.instagram.com",
		"scontent.cdninstagram.com", "cdninstagram.com",
		"edge-chat.instagram.com", "gateway.instagram.com",
		"lookaside.instagram.com", "edge-mqtt.instagram.com",
		"platform.instagram.com", "web.instagram.com",
		"l.instagram.com", "lookaside.fbsbx.com",
	},
	"facebook.com": {
		"m.facebook.com", "web.facebook.com", "graph.facebook.com",
		"fbcdn.net", "fbcdn.com", "connect.facebook.net", "static.facebook.com",
	},
	"twitter.com": {"api.x.com", "api.twitter.com", "t.co", "twimg.com", "pbs.twimg.com"},
	"x.com":       {"api.x.com", "api.twitter.com", "t.co", "twimg.com", "pbs.twimg.com"},
	"youtube.com": {"m.youtube.com", "youtu.be", "googlevideo.com", "ytimg.com"},
	"tiktok.com":  {"m.tiktok.com", "vm.tiktok.com"},
	"reddit.com":  {"old.reddit.com", "i.redd.it", "v.redd.it", "redd.it"},
}

// ExpandDomains returns every hostname that must be overridden for site:
// the site itself, its www host, the common subdomains and any platform
// specific hosts. Duplicates are dropped, first occurrence wins.
func ExpandDomains(site string) []string {
	domains := make([]string, 0, 2+len(CommonSubdomains)+len(platformDomains[site]))
	domains = append(domains, site, "www."+site)
	for _, sub := range CommonSubdomains {
		domains = append(domains, sub+"."+site)
	}
	domains = append(domains, platformDomains[site]...)
	return dedupe(domains)
}

// ExpandDomainsForFirewall returns the subset of hostnames resolved to IPs
// for the packet filter layer.
func ExpandDomainsForFirewall(site string) []string {
	domains := []string{site, "www." + site}
	domains = append(domains, firewallDomains[site]...)
	return dedupe(domains)
}

// SubdomainCount is the number of hostnames blocked besides site itself.
func SubdomainCount(site string) int {
	return len(ExpandDomains(site)) - 1
}

// IsKnownPlatform reports whether site has a platform specific expansion.
func IsKnownPlatform(site string) bool {
	_, ok := platformDomains[site]
	return ok
}

// KnownPlatforms lists the sites with platform specific expansions.
func KnownPlatforms() []string {
	return []string{"x.com", "twitter.com", "instagram.com", "facebook.com", "youtube.com", "tiktok.com", "reddit.com"}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, d := range in {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
