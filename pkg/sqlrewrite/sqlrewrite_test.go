// SPDX-License-Identifier: Apache-2.0

package sqlrewrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteCreateTable(t *testing.T) {
	dump := "CREATE TABLE `oc_users` (\n" +
		"  `uid` varchar(64) NOT NULL DEFAULT '',\n" +
		"  `displayname` varchar(64) DEFAULT NULL,\n" +
		"  `password` varchar(255) NOT NULL DEFAULT '',\n" +
		"  PRIMARY KEY (`uid`),\n" +
		"  KEY `user_displayname_idx` (`displayname`)\n" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin;\n"

	out, tables := New().Rewrite(dump)
	require.Equal(t, 1, tables)
	require.NotContains(t, out, "`")
	require.NotContains(t, out, "ENGINE")
	require.NotContains(t, out, "user_displayname_idx")
	require.Contains(t, out, `CREATE TABLE "oc_users"`)
	require.Contains(t, out, "PRIMARY KEY (\"uid\")\n);")
	require.True(t, strings.HasSuffix(strings.TrimSpace(out), ");"))
}

func TestRewriteDropsDanglingComma(t *testing.T) {
	dump := "CREATE TABLE `oc_jobs` (\n" +
		"  `id` int(10) NOT NULL,\n" +
		"  PRIMARY KEY (`id`),\n" +
		"  KEY `job_class_index` (`class`)\n" +
		");\n"

	out, _ := New().Rewrite(dump)
	require.Contains(t, out, "PRIMARY KEY (\"id\")\n)")
	require.NotContains(t, out, "),\n)")
}

// inTable wraps a column definition in the CREATE TABLE context the schema
// rules are scoped to.
func inTable(column string) string {
	return "CREATE TABLE `t` (\n  " + column + "\n);\n"
}

func TestRewriteAutoIncrement(t *testing.T) {
	out, _ := New().Rewrite(inTable("`id` bigint(20) unsigned NOT NULL AUTO_INCREMENT"))
	require.Contains(t, out, `"id" bigserial`)

	out, _ = New().Rewrite(inTable("`id` int(10) unsigned NOT NULL AUTO_INCREMENT"))
	require.Contains(t, out, `"id" serial`)
}

func TestRewriteTypeMapping(t *testing.T) {
	cases := map[string]string{
		"`enabled` tinyint(1) NOT NULL DEFAULT '0',":    "boolean",
		"`size` bigint(20) NOT NULL,":                   "bigint",
		"`mtime` int(11) DEFAULT NULL,":                 "integer",
		"`priority` smallint(6) NOT NULL,":              "smallint",
		"`data` longtext,":                              "text",
		"`argument` longblob,":                          "bytea",
		"`created` datetime DEFAULT NULL,":              "timestamp",
		"`quota` double DEFAULT NULL,":                  "double precision",
		"`permissions` int(11) unsigned NOT NULL,":      "integer",
	}
	for in, want := range cases {
		out, _ := New().Rewrite(inTable(in))
		require.Contains(t, out, want, in)
		require.NotContains(t, out, "unsigned", in)
	}
}

func TestRewriteLeavesRowDataAlone(t *testing.T) {
	dump := "CREATE TABLE `oc_jobs` (\n" +
		"  `class` varchar(255) NOT NULL,\n" +
		"  `last_run` datetime DEFAULT NULL\n" +
		");\n" +
		"INSERT INTO `oc_jobs` VALUES ('uses datetime and `backticks` inside');\n"

	out, _ := New().Rewrite(dump)
	require.Contains(t, out, `"last_run" timestamp`)
	require.Contains(t, out, `INSERT INTO "oc_jobs" VALUES`)
	require.Contains(t, out, "('uses datetime and `backticks` inside');")
}

func TestRewriteDropsMySQLOnlyLines(t *testing.T) {
	dump := `/*!40101 SET @saved_cs_client     = @@character_set_client */;
LOCK TABLES ` + "`oc_users`" + ` WRITE;
INSERT INTO ` + "`oc_users`" + ` VALUES ('admin','admin','hash');
UNLOCK TABLES;
`
	out, _ := New().Rewrite(dump)
	require.NotContains(t, out, "40101")
	require.NotContains(t, out, "LOCK TABLES")
	require.NotContains(t, out, "UNLOCK TABLES")
	require.Contains(t, out, `INSERT INTO "oc_users" VALUES ('admin','admin','hash');`)
}

func TestRewriteSingleLineCreateClosesScope(t *testing.T) {
	dump := "CREATE TABLE `a` (`x` int(11));\n" +
		"INSERT INTO `a` VALUES ('datetime');\n"

	out, tables := New().Rewrite(dump)
	require.Equal(t, 1, tables)
	require.Contains(t, out, `CREATE TABLE "a" ("x" integer);`)
	require.Contains(t, out, `INSERT INTO "a" VALUES ('datetime');`)
}

func TestRewriteCountsTables(t *testing.T) {
	dump := "CREATE TABLE `a` (x int(11));\nCREATE TABLE `b` (y int(11));\n"
	_, tables := New().Rewrite(dump)
	require.Equal(t, 2, tables)

	_, tables = New().Rewrite("-- empty dump\n")
	require.Equal(t, 0, tables)
}
