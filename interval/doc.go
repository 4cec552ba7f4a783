/*Package interval implements annotation-region handling for sets of genomic
  coordinates represented by BED files.
  (Note the absence of 'union'.  Overlapping intervals are tracked separately
  and in file order, never merged; coverage statistics are reported per BED
  entry, so entry identity must survive loading.)
*/
package interval
